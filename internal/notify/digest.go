package notify

import (
	"fmt"
	"html/template"
	"strings"

	"piata/matcher-service/internal/model"
)

// DigestLimit caps how many matches appear in one digest email.
const DigestLimit = 5

var digestTmpl = template.Must(template.New("digest").Parse(`<h2>Bună {{.Greeting}}!</h2>
<p>Agentul tău de cumpărături "<strong>{{.AgentName}}</strong>" a găsit {{.Total}} oferte noi!</p>
<h3>Cele mai bune potriviri:</h3>
{{range .Listings}}<div style="border: 1px solid #ddd; padding: 15px; margin: 10px 0; border-radius: 5px;">
  <h3>{{.Title}}</h3>
  <p><strong>Preț:</strong> {{printf "%.0f" .Price}} RON</p>
  <p><strong>Locație:</strong> {{.Location}}</p>
  <a href="{{$.BaseURL}}/anunt/{{.ListingID}}"
     style="background: #667eea; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px; display: inline-block;">
    Vezi anunțul →
  </a>
</div>
{{end}}<p style="margin-top: 20px;">
  <a href="{{.BaseURL}}/shopping-agents">Vezi toate potrivirile →</a>
</p>`))

type digestData struct {
	Greeting  string
	AgentName string
	Total     int
	BaseURL   string
	Listings  []model.MatchedListing
}

// ComposeDigest renders the single per-agent digest email: subject plus an
// HTML body listing up to DigestLimit matches, best first. The matches slice
// is assumed pre-sorted by score.
func ComposeDigest(baseURL, ownerName string, agent model.ShoppingAgent, matches []model.MatchedListing) (subject, html string, err error) {
	top := matches
	if len(top) > DigestLimit {
		top = top[:DigestLimit]
	}

	greeting := strings.TrimSpace(ownerName)
	if greeting == "" {
		greeting = "Utilizator"
	}

	subject = fmt.Sprintf("🎯 %d oferte noi pentru agentul %q", len(matches), agent.Name)

	var sb strings.Builder
	if err := digestTmpl.Execute(&sb, digestData{
		Greeting:  greeting,
		AgentName: agent.Name,
		Total:     len(matches),
		BaseURL:   baseURL,
		Listings:  top,
	}); err != nil {
		return "", "", fmt.Errorf("render digest: %w", err)
	}
	return subject, sb.String(), nil
}
