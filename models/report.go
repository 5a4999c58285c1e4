package models

// InstallReport is posted once by the setup command after writing the
// machine's config. LanguageExtras carries a JSON blob of
// language-specific build details.
type InstallReport struct {
	Hostname       string `form:"hostname" json:"hostname"`
	Platform       string `form:"platform" json:"platform"`
	Processor      string `form:"processor" json:"processor"`
	Language       string `form:"language" json:"language"`
	LanguageExtras string `form:"language_extras" json:"language_extras"`
}
