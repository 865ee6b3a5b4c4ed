package model

type CheckInResult struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message"`
	UserInfo *UserInfo `json:"user_info,omitempty"`
}

type AccountCheckInResult struct {
	AccountID   string    `json:"account_id"`
	AccountName string    `json:"account_name"`
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	UserInfo    *UserInfo `json:"user_info,omitempty"`
}

type BatchCheckInResult struct {
	Total        int                    `json:"total"`
	SuccessCount int                    `json:"success_count"`
	FailedCount  int                    `json:"failed_count"`
	Results      []AccountCheckInResult `json:"results"`
}
