package engine

import (
	"encoding/json"

	"github.com/quillnotes/quill/errors"
	"github.com/quillnotes/quill/note"
)

// notePayload is the full entity snapshot uploaded when a note is recreated
// on the server
type notePayload struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Summary   string   `json:"summary,omitempty"`
	Tags      []string `json:"tags"`
	Category  string   `json:"category_id,omitempty"`
	UserID    string   `json:"user_id"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
}

func marshalNotePayload(n *note.LocalNote) (json.RawMessage, error) {
	data, err := json.Marshal(notePayload{
		Title:     n.Title,
		Content:   n.Content,
		Summary:   n.Summary,
		Tags:      n.Tags,
		Category:  n.CategoryID,
		UserID:    n.UserID,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal note payload")
	}
	return data, nil
}
