package transfer

type XProcessingInfo struct {
	State          string `json:"state"`
	CheckAfterSecs int    `json:"check_after_secs"`
	Error          *struct {
		Code    int    `json:"code"`
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type XMediaResponse struct {
	MediaID        int64            `json:"media_id"`
	MediaIDString  string           `json:"media_id_string"`
	ProcessingInfo *XProcessingInfo `json:"processing_info,omitempty"`
}

type XTweetRequest struct {
	Text  string `json:"text"`
	Media struct {
		MediaIDs []string `json:"media_ids"`
	} `json:"media"`
}

type XTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}
