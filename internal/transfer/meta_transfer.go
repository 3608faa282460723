package transfer

type MetaIDResponse struct {
	ID string `json:"id"`
}

type InstagramContainerStatus struct {
	StatusCode string `json:"status_code"`
	Status     string `json:"status"`
}

type FacebookPage struct {
	ID          string `json:"id"`
	AccessToken string `json:"access_token"`
}

type FacebookAccountsResponse struct {
	Data []FacebookPage `json:"data"`
}

type FacebookReelStartResponse struct {
	VideoID   string `json:"video_id"`
	UploadURL string `json:"upload_url"`
}

type FacebookSuccessResponse struct {
	Success bool `json:"success"`
}

type MetaErrorResponse struct {
	Error struct {
		Message        string `json:"message"`
		Type           string `json:"type"`
		Code           int    `json:"code"`
		ErrorSubcode   int    `json:"error_subcode"`
		IsTransient    bool   `json:"is_transient"`
		ErrorUserTitle string `json:"error_user_title"`
		ErrorUserMsg   string `json:"error_user_msg"`
		FbtraceID      string `json:"fbtrace_id"`
	} `json:"error"`
}

type MetaDebugTokenResponse struct {
	Data struct {
		IsValid   bool     `json:"is_valid"`
		ExpiresAt int64    `json:"expires_at"`
		Scopes    []string `json:"scopes"`
	} `json:"data"`
}
