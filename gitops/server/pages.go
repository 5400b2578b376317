package server

import (
	_ "embed"
	"html"
	"net/http"

	"go.uber.org/zap"

	"github.com/byte4ever/tagpromoter/templating"
)

const (
	pageProgress = "progress"
	pageMessage  = "message"
)

var (
	//go:embed pages/progress.html
	progressPage string

	//go:embed pages/message.html
	messagePage string
)

func newPages() (*templating.Engine, error) {
	return templating.New(map[string]string{
		pageProgress: progressPage,
		pageMessage:  messagePage,
	})
}

// escape HTML-escapes every value of vars.
func escape(vars templating.Vars) templating.Vars {
	out := make(templating.Vars, len(vars))
	for k, v := range vars {
		out[k] = html.EscapeString(v)
	}

	return out
}

func (s *Server) renderPage(
	w http.ResponseWriter,
	status int,
	name string,
	vars templating.Vars,
) {
	body, err := s.pages.Render(name, escape(vars))
	if err != nil {
		s.logger.Error("cannot render page", zap.String("page", name), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Debug("cannot write page", zap.String("page", name), zap.Error(err))
	}
}

func (s *Server) renderMessage(
	w http.ResponseWriter,
	status int,
	message string,
) {
	s.renderPage(w, status, pageMessage, templating.Vars{
		"message": message,
	})
}
