package app

import "time"

// ResultKind tags a ScrapResult.
type ResultKind uint8

const (
	// KindEmpty means the user owns nothing in the category.
	KindEmpty ResultKind = iota
	// KindCount carries only the index-resident total.
	KindCount
	// KindPage carries one page of shaped items.
	KindPage
)

// ScrapResult is the tagged outcome of a listing query. Exactly one of
// Total and Items is meaningful, selected by Kind.
type ScrapResult struct {
	Kind  ResultKind
	Total int
	Items []Item
}

// Item is one shaped listing entry. Category shaping fills the fields
// that apply and leaves the rest zero: language sets Title and
// Enterprise, certification sets Period, ExamDate and MainImage.
type Item struct {
	ID         string            `json:"id"`
	ScrapCount int64             `json:"scrapCount"`
	View       int64             `json:"view"`
	SortDate   time.Time         `json:"sortDate,omitzero"`
	Title      string            `json:"title,omitempty"`
	Enterprise string            `json:"enterprise,omitempty"`
	Period     string            `json:"period,omitempty"`
	ExamDate   string            `json:"examDate,omitempty"`
	MainImage  string            `json:"mainImage,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}
