package models

// Tip is a free-text advice note written by a pharmacist.
type Tip struct {
	Base

	Text       string `json:"text"`
	AuthorID   int64  `json:"authorId"`
	AuthorName string `json:"authorName"`
}

// TipInput carries caller-supplied fields for create/update.
type TipInput struct {
	Text       string `validate:"required,min=1,max=2000"`
	AuthorID   int64  `validate:"required,gt=0"`
	AuthorName string `validate:"max=200"`
}
