package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fabfab/docsearch/session"
	"github.com/fabfab/docsearch/shell"
	"github.com/fabfab/docsearch/ui"
)

// wsInput is sent by the client. Either field may be empty.
type wsInput struct {
	Question string `json:"question"`
	Mode     string `json:"mode"`
}

type wsFrame struct {
	Type     string        `json:"type"`
	Elements []*ui.Element `json:"elements"`
}

// wsPartial carries the contact answer generated so far. The frame that
// follows it replaces it.
type wsPartial struct {
	Type   string `json:"type"`
	Answer string `json:"answer"`
}

// handleWebsocket runs the session's event loop over one connection. Each
// client message becomes one render pass. Contact answers are streamed as
// partial messages before their frame. The loop ends when the client
// disconnects or the session cannot be initialized.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sess, cookie := s.lookupSession(r)
	header := http.Header{}
	if cookie != nil {
		header.Add("Set-Cookie", cookie.String())
	}

	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inputs := make(chan shell.Input)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		s.readInputs(ctx, conn, inputs)
	}()

	logger := s.logger.With(zap.String("session_id", sess.ID))
	logger.Debug("websocket connected")

	controller := shell.New(sess, s.initializer, s.logger)
	controller.StreamAnswers(func(answer string) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(wsPartial{Type: "partial", Answer: answer})
	})
	err = controller.Run(ctx, inputs, func(frame *ui.Frame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(wsFrame{Type: "frame", Elements: frame.Elements})
	})

	closeCode, reason := websocket.CloseNormalClosure, ""
	switch {
	case errors.Is(err, shell.ErrFailed):
		closeCode, reason = websocket.CloseInternalServerErr, "session unavailable"
	case err != nil && !errors.Is(err, context.Canceled):
		logger.Warn("websocket loop ended", zap.Error(err))
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, reason), time.Now().Add(writeWait))

	cancel()
	_ = conn.Close()
	<-readerDone
	logger.Debug("websocket closed")
}

// readInputs forwards client messages until the connection fails or ctx is
// done, then closes inputs.
func (s *Server) readInputs(ctx context.Context, conn *websocket.Conn, inputs chan<- shell.Input) {
	defer close(inputs)

	for {
		var msg wsInput
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				s.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		in := shell.Input{Question: msg.Question}
		if msg.Mode != "" {
			mode, err := session.ParseMode(msg.Mode)
			if err != nil {
				s.logger.Warn("ignoring websocket message", zap.Error(err))
				continue
			}
			in.Mode = &mode
		}

		select {
		case inputs <- in:
		case <-ctx.Done():
			return
		}
	}
}
