package models

// BatchProgress is emitted while a batch runs
type BatchProgress struct {
	BatchID     string `json:"batch_id"`
	RequesterID string `json:"requester_id"`
	Completed   int    `json:"completed"`
	Total       int    `json:"total"`
	Success     int    `json:"success"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
	Done        bool   `json:"done"`
	NextPageURL string `json:"next_page_url,omitempty"`
}

// BatchResult is the final tally of a batch.
// Success + Failed + Skipped == Total.
type BatchResult struct {
	BatchID     string `json:"batch_id"`
	Total       int    `json:"total"`
	Success     int    `json:"success"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
	NextPageURL string `json:"next_page_url,omitempty"`
}
