package task

// PageTask asks a page worker to fetch one listing index page.
type PageTask struct {
	TargetID   string `json:"target_id"`   // e.g. "etagi/buy"
	PageURL    string `json:"page_url"`    // Rendered index URL
	PageNumber int    `json:"page_number"` // 1-based
}

func (t *PageTask) TaskType() string {
	return "PageTask"
}

func (t *PageTask) TaskValue() ([]byte, error) {
	return encode(t)
}

func (t *PageTask) Target() string {
	if t == nil {
		return ""
	}
	return t.TargetID
}
