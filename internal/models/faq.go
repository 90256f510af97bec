package models

// FAQ is a question/answer pair maintained by pharmacists.
type FAQ struct {
	Base

	Question   string `json:"question"`
	Answer     string `json:"answer"`
	AuthorID   int64  `json:"authorId"`
	AuthorName string `json:"authorName"`
}

// FAQInput carries caller-supplied fields for create/update.
type FAQInput struct {
	Question   string `validate:"required,min=1,max=500"`
	Answer     string `validate:"required,min=1,max=5000"`
	AuthorID   int64  `validate:"required,gt=0"`
	AuthorName string `validate:"max=200"`
}
