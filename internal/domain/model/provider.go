package model

import "strings"

const (
	CheckInStrategyAPI  = "api"
	CheckInStrategyPage = "page"
)

type Provider struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`

	LoginPath    string `json:"login_path"`
	SignInPath   string `json:"sign_in_path"`
	UserInfoPath string `json:"user_info_path"`
	ModelsPath   string `json:"models_path"`

	// Header name carrying the account's api-user identifier, e.g. "New-Api-User".
	APIUserHeader string `json:"api_user_header"`

	RequiresWafBypass bool   `json:"requires_waf_bypass"`
	CheckInStrategy   string `json:"check_in_strategy"`
}

func (p *Provider) Strategy() string {
	if strings.EqualFold(strings.TrimSpace(p.CheckInStrategy), CheckInStrategyPage) {
		return CheckInStrategyPage
	}
	return CheckInStrategyAPI
}

func (p *Provider) LoginURL() string {
	return p.Domain + p.LoginPath
}

func (p *Provider) SignInURL() string {
	return p.Domain + p.SignInPath
}

func (p *Provider) UserInfoURL() string {
	return p.Domain + p.UserInfoPath
}

// Complete reports whether the provider carries everything a check-in needs.
func (p *Provider) Complete() bool {
	if strings.TrimSpace(p.Domain) == "" {
		return false
	}
	if strings.TrimSpace(p.SignInPath) == "" {
		return false
	}
	return strings.TrimSpace(p.UserInfoPath) != ""
}
