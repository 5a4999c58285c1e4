package vac

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"runtime"
)

// InstallReport describes the client host, sent once after a
// successful setup.
type InstallReport struct {
	Hostname       string
	Platform       string
	Processor      string
	Language       string
	LanguageExtras map[string]string
}

// DefaultInstallReport fills an InstallReport from the running process.
func DefaultInstallReport() InstallReport {
	hostname, _ := os.Hostname()
	return InstallReport{
		Hostname:  hostname,
		Platform:  runtime.GOOS,
		Processor: runtime.GOARCH,
		Language:  "go",
		LanguageExtras: map[string]string{
			"version":  runtime.Version(),
			"compiler": runtime.Compiler,
		},
	}
}

// ReportInstall tells the service a client finished setting up.
func (c *Client) ReportInstall(ctx context.Context, report InstallReport) error {
	form := url.Values{}
	form.Set("hostname", report.Hostname)
	form.Set("platform", report.Platform)
	form.Set("processor", report.Processor)
	form.Set("language", report.Language)
	if len(report.LanguageExtras) > 0 {
		extras, err := json.Marshal(report.LanguageExtras)
		if err != nil {
			return err
		}
		form.Set("language_extras", string(extras))
	}
	return c.ask(ctx, &askRequest{
		method: http.MethodPost,
		path:   "/report/install/",
		form:   form,
	}, nil)
}

// SendLogToSupport uploads the client log file for a support case. It
// returns false without error when no log has been written yet.
func (c *Client) SendLogToSupport(ctx context.Context) (bool, error) {
	data, err := os.ReadFile(LogPath(c.config.Dir()))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = c.ask(ctx, &askRequest{
		method: http.MethodPost,
		path:   "/report/client_log/",
		files:  []upload{{target: "multyvac.log", contents: data}},
	}, nil)
	if err != nil {
		return false, err
	}
	return true, nil
}
