package api

type AddDocumentRequest struct {
	Title     string `json:"title" binding:"required"`
	SourceURL string `json:"source_url" binding:"required,url"`
}

type PreviewResponse struct {
	Chunks  int      `json:"chunks"`
	Preview []string `json:"preview"`
}

type NoteRequest struct {
	Markup string `json:"markup"`
}

// AskIntoNoteRequest asks for an answer streamed into the document's note.
// Query is the editor selection; Paragraph is the text around the cursor
// and is used when nothing is selected.
type AskIntoNoteRequest struct {
	Query     string `json:"query"`
	Paragraph string `json:"paragraph"`
	Anchor    *int   `json:"anchor,omitempty"`
}
