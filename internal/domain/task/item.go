package task

// ItemTask asks an item worker to fetch and extract one detail page.
type ItemTask struct {
	TargetID string `json:"target_id"`
	Link     string `json:"link"` // Natural key of the listing
}

func (t *ItemTask) TaskType() string {
	return "ItemTask"
}

func (t *ItemTask) TaskValue() ([]byte, error) {
	return encode(t)
}

func (t *ItemTask) Target() string {
	if t == nil {
		return ""
	}
	return t.TargetID
}
