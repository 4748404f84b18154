package report

import (
	"embed"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/hakim/connprobe/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTmpl = template.Must(template.ParseFS(templateFS, "templates/run.html"))

// pageData is what templates/run.html renders.
type pageData struct {
	Success   bool
	Timestamp string
	Server    string
	Port      int
	RunID     string
	ErrorKind string
	Error     string
	Output    string
}

// WriteHTML renders rec as a standalone HTML page with a success or failure
// status marker and the escaped transcript.
func WriteHTML(w io.Writer, rec *models.RunRecord) error {
	data := pageData{
		Success:   rec.Status == models.StatusSuccess,
		Timestamp: time.Now().UTC().Format("2006-01-02 15:04:05"),
		Server:    rec.Host,
		Port:      rec.Port,
		RunID:     rec.ID,
		ErrorKind: rec.ErrorKind,
		Error:     rec.Error,
		Output:    strings.Join(rec.Transcript, "\n"),
	}
	if data.Success {
		data.Output += "\n\n[+] Test completed successfully!"
	}
	return pageTmpl.Execute(w, data)
}

// RenderHTML returns the HTML page for rec.
func RenderHTML(rec *models.RunRecord) (string, error) {
	var b strings.Builder
	if err := WriteHTML(&b, rec); err != nil {
		return "", err
	}
	return b.String(), nil
}
