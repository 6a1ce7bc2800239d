package upstream

// Batch is one entry of the upstream batch listing.
type Batch struct {
	BatchID      string `json:"batch_id"`
	ForecastTime string `json:"forecast_time"`
}

// PageMetadata describes one page of a batch payload. TotalPages is
// authoritative only on the page most recently fetched.
type PageMetadata struct {
	BatchID    string `json:"batch_id"`
	Count      int    `json:"count"`
	TotalPages int    `json:"total_pages"`
	Page       int    `json:"page"`
	TotalItems int    `json:"total_items"`
}

// Observation is a single weather data point as delivered upstream.
type Observation struct {
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	Temperature       float64 `json:"temperature"`
	Humidity          float64 `json:"humidity"`
	PrecipitationRate float64 `json:"precipitation_rate"`
}

// BatchPage is one fetched page of a batch.
type BatchPage struct {
	Metadata PageMetadata  `json:"metadata"`
	Data     []Observation `json:"data"`
}

// IsLastPage reports whether this page is the batch's final page.
func (p *BatchPage) IsLastPage() bool {
	return p.Metadata.Page == p.Metadata.TotalPages-1
}
