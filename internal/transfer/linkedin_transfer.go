package transfer

type LinkedInInitializeUploadRequest struct {
	InitializeUploadRequest LinkedInInitializeUpload `json:"initializeUploadRequest"`
}

type LinkedInInitializeUpload struct {
	Owner           string `json:"owner"`
	FileSizeBytes   int64  `json:"fileSizeBytes"`
	UploadCaptions  bool   `json:"uploadCaptions"`
	UploadThumbnail bool   `json:"uploadThumbnail"`
}

type LinkedInUploadInstruction struct {
	UploadURL string `json:"uploadUrl"`
	FirstByte int64  `json:"firstByte"`
	LastByte  int64  `json:"lastByte"`
}

type LinkedInInitializeUploadResponse struct {
	Value struct {
		Video              string                      `json:"video"`
		UploadToken        string                      `json:"uploadToken"`
		UploadInstructions []LinkedInUploadInstruction `json:"uploadInstructions"`
	} `json:"value"`
}

type LinkedInFinalizeUploadRequest struct {
	FinalizeUploadRequest struct {
		Video           string   `json:"video"`
		UploadToken     string   `json:"uploadToken"`
		UploadedPartIDs []string `json:"uploadedPartIds"`
	} `json:"finalizeUploadRequest"`
}

type LinkedInVideoStatus struct {
	Status string `json:"status"`
}

type LinkedInPost struct {
	Author                    string               `json:"author"`
	Commentary                string               `json:"commentary"`
	Visibility                string               `json:"visibility"`
	Distribution              LinkedInDistribution `json:"distribution"`
	Content                   LinkedInPostContent  `json:"content"`
	LifecycleState            string               `json:"lifecycleState"`
	IsReshareDisabledByAuthor bool                 `json:"isReshareDisabledByAuthor"`
}

type LinkedInDistribution struct {
	FeedDistribution               string   `json:"feedDistribution"`
	TargetEntities                 []string `json:"targetEntities"`
	ThirdPartyDistributionChannels []string `json:"thirdPartyDistributionChannels"`
}

type LinkedInPostContent struct {
	Media struct {
		ID string `json:"id"`
	} `json:"media"`
}
