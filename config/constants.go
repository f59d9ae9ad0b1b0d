package config

// Application identity and mode labels.
const (
	AppName    = "Company Document Search"
	LoggerName = "ApplicationLog"

	ModeDocumentSearch = "document_search"
	ModeContactQA      = "contact_qa"

	ModeDocumentSearchLabel = "Document search"
	ModeContactQALabel      = "Ask a question"
)

// UI copy.
const (
	AppBootMessage = "application booted"

	ChatInputHelperText = "Ask about internal documents, policies or procedures"
	SpinnerText         = "Looking through company documents..."

	InitialAIMessage = "Hello. I am an assistant that answers from the company's internal documents. " +
		"Choose a mode above, then type your question in the box at the bottom of the page."

	ModeDocumentSearchDescription = "Shows where documents related to your input are stored."
	ModeContactQADescription      = "Answers your question from the internal documents and lists the sources it used."

	SearchMainMessage     = "Information related to your input is most likely in this document:"
	SearchOtherMessage    = "Other candidate locations:"
	SearchNoMatchMessage  = "No internal documents related to your input were found. Try different keywords."
	ContactSourcesHeading = "Sources"

	// NoMatchAnswer is what the assistant says in contact mode when the
	// retrieved documents do not contain the answer.
	NoMatchAnswer = "I could not find the information needed to answer in the internal documents."
)

// Error templates.
const (
	ErrorIcon = "⚠️"

	InitializeErrorMessage      = "Initialization failed."
	ConversationLogErrorMessage = "Failed to display the conversation history."
	ScreenRenderErrorMessage    = "Failed to display the screen."
	GetLLMResponseErrorMessage  = "Failed to get an answer."
	DispAnswerErrorMessage      = "Failed to display the answer."

	CommonErrorSuffix = "If the problem persists, please contact your administrator."
)
