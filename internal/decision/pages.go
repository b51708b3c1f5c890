package decision

import (
	"html/template"
	"net/http"
)

// statusPage is the single operator-facing page layout. The resolver is
// opened from chat action links, so these render standalone.
var statusPage = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
  <head>
    <title>{{.Title}}</title>
    <style>
      body { font-family: system-ui; display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; background: #1a1a1a; color: #fff; }
      .container { text-align: center; max-width: 32rem; padding: 0 1rem; }
      h1 { color: {{.Accent}}; }
      .hint { color: #888; }
    </style>
  </head>
  <body>
    <div class="container">
      <h1>{{.Heading}}</h1>
      {{range .Lines}}<p>{{.}}</p>
      {{end}}{{if .Hint}}<p class="hint">{{.Hint}}</p>{{end}}
    </div>
  </body>
</html>
`))

type pageData struct {
	Title   string
	Heading string
	Accent  string
	Lines   []string
	Hint    string
}

func renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = statusPage.Execute(w, data)
}

func invalidRequestPage(w http.ResponseWriter) {
	renderPage(w, http.StatusBadRequest, pageData{
		Title:   "Invalid Request",
		Heading: "Invalid Request",
		Accent:  "#ff4444",
		Lines:   []string{"Missing payment ID or action."},
	})
}

func notFoundPage(w http.ResponseWriter) {
	renderPage(w, http.StatusNotFound, pageData{
		Title:   "Payment Not Found",
		Heading: "Payment Not Found",
		Accent:  "#ff9900",
		Lines:   []string{"This payment has already been processed or has expired."},
	})
}

func approvedPage(w http.ResponseWriter) {
	renderPage(w, http.StatusOK, pageData{
		Title:   "Payment Approved",
		Heading: "Payment Approved",
		Accent:  "#00ff00",
		Lines:   []string{"The payment has been approved and will NOT be refunded."},
		Hint:    "You can close this tab.",
	})
}

func refundedPage(w http.ResponseWriter, refundID string) {
	renderPage(w, http.StatusOK, pageData{
		Title:   "Payment Refunded",
		Heading: "Payment Refunded",
		Accent:  "#ff4444",
		Lines: []string{
			"The payment has been successfully refunded.",
			"Refund ID: " + refundID,
		},
		Hint: "You can close this tab.",
	})
}

func refundFailedPage(w http.ResponseWriter, detail string) {
	renderPage(w, http.StatusInternalServerError, pageData{
		Title:   "Refund Failed",
		Heading: "Refund Failed",
		Accent:  "#ff9900",
		Lines:   []string{"Failed to process refund: " + detail},
		Hint:    "The record was kept so you can retry, or process the refund manually in the provider dashboard.",
	})
}

func internalErrorPage(w http.ResponseWriter) {
	renderPage(w, http.StatusInternalServerError, pageData{
		Title:   "Internal Error",
		Heading: "Something Went Wrong",
		Accent:  "#ff4444",
		Lines:   []string{"The decision could not be processed. Try the link again."},
	})
}
