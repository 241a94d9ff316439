package api

type SimpleQueryResponseContent struct {
	Sequence int     `json:"sequence"`
	Text     string  `json:"text"`
	Score    float32 `json:"score"`
}

type SimpleQueryResponse struct {
	Responses []SimpleQueryResponseContent `json:"responses"`
}
