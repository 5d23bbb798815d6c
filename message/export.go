package message

import "time"

// Export is the record shape handed to consumers outside the core.
type Export struct {
	ID            string      `json:"id"`
	CreatedAt     string      `json:"createdAt"`
	Title         *string     `json:"title,omitempty"`
	Transcription *string     `json:"transcription,omitempty"`
	Creator       *CreatorRef `json:"creator,omitempty"`
	Audio         string      `json:"audio"`
	ExpiresAt     *string     `json:"expiresAt,omitempty"`
	ListensLeft   *int        `json:"listensLeft,omitempty"`
}

func (r *Record) Export() Export {
	c := r.Clone()
	e := Export{
		ID:            c.ID,
		CreatedAt:     c.CreatedAt.UTC().Format(time.RFC3339Nano),
		Title:         c.Title,
		Transcription: c.Transcription,
		Creator:       c.Creator,
		Audio:         c.AudioRef,
		ListensLeft:   c.ListensLeft,
	}
	if c.ExpiresAt != nil {
		s := c.ExpiresAt.UTC().Format(time.RFC3339Nano)
		e.ExpiresAt = &s
	}
	return e
}
