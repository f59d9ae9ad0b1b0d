package api

import (
	"net/http"

	"github.com/fabfab/docsearch/session"
)

// session returns the caller's session, creating one and setting the cookie
// when the request carries no live session.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *session.Session {
	sess, cookie := s.lookupSession(r)
	if cookie != nil {
		http.SetCookie(w, cookie)
	}
	return sess
}

// lookupSession is like session but hands back the cookie to set instead of
// writing it, for handlers that must control the response headers.
func (s *Server) lookupSession(r *http.Request) (*session.Session, *http.Cookie) {
	var id string
	if c, err := r.Cookie(SessionCookie); err == nil {
		id = c.Value
	}

	sess, created := s.store.GetOrCreate(id)
	if !created {
		return sess, nil
	}
	return sess, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
