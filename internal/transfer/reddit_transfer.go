package transfer

type RedditAssetLease struct {
	Args struct {
		Action string `json:"action"`
		Fields []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"fields"`
	} `json:"args"`
	Asset struct {
		AssetID      string `json:"asset_id"`
		UploadURL    string `json:"upload_url"`
		WebsocketURL string `json:"websocket_url"`
	} `json:"asset"`
}

type RedditSubmitResponse struct {
	JSON struct {
		Errors [][]any `json:"errors"`
		Data   struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"data"`
	} `json:"json"`
}
