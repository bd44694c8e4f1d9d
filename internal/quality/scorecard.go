package quality

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/ops-copilot/internal/model"
)

// scorecardIssueLimit caps the daily issue rows listed in the scorecard.
const scorecardIssueLimit = 10

// RenderScorecard renders a quality result as a markdown scorecard.
func RenderScorecard(result *model.QualityResult) string {
	p := message.NewPrinter(language.BritishEnglish)
	var b strings.Builder

	b.WriteString("# Data Quality Scorecard\n\n")
	p.Fprintf(&b, "- Run timestamp (UTC): %s\n", result.RunTimestamp)
	p.Fprintf(&b, "- Overall score: **%v / 100**\n", result.OverallScore)
	p.Fprintf(&b, "- Freshness lag (days): %d\n\n", result.FreshnessLagDays)

	b.WriteString("## Check Results\n")
	for _, check := range result.Checks {
		p.Fprintf(&b, "- %s (%s): %s | score=%v | %s\n",
			check.CheckName, check.TableName, strings.ToUpper(check.Status), check.Score, check.Details)
	}

	b.WriteString("\n## Notable Daily Issues\n")
	if len(result.Issues) == 0 {
		b.WriteString("- None detected.\n")
		return b.String()
	}
	issues := result.Issues
	if len(issues) > scorecardIssueLimit {
		issues = issues[:scorecardIssueLimit]
	}
	for _, issue := range issues {
		p.Fprintf(&b, "- %s: missing_delivered=%d, duplicate_score=%v, overall=%v\n",
			issue.Date, issue.MissingDelivered, issue.DuplicateScore, issue.Overall)
	}
	return b.String()
}
