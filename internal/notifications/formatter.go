package notifications

import (
	"fmt"
	"strings"

	"github.com/palma21/mr-comments-bot/internal/models"
)

// slackEscaper escapes the characters Slack treats as control sequences in message text
var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Formatter renders the Slack messages sent about merge request comments
type Formatter struct {
	baseURL string
}

// NewFormatter creates a formatter linking to the GitLab instance at baseURL
func NewFormatter(baseURL string) *Formatter {
	return &Formatter{
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// CommentURL links to a note on a merge request
func (f *Formatter) CommentURL(project models.Project, mr models.MergeRequest, noteID int) string {
	return fmt.Sprintf("%s/%s/-/merge_requests/%d#note_%d", f.baseURL, project.PathWithNamespace, mr.IID, noteID)
}

// NewComment tells the MR author somebody commented
func (f *Formatter) NewComment(project models.Project, mr models.MergeRequest, note models.Note) string {
	return fmt.Sprintf(
		"💬 *New comment on a merge request*\n"+
			"*Project:* %s\n"+
			"*MR:* %s\n"+
			"*Comment by:* %s\n"+
			"*URL:* %s\n\n"+
			"```%s```",
		project.PathWithNamespace, mr.Title, note.Author, f.CommentURL(project, mr, note.ID), escapeText(note.Body))
}

// FollowUp reminds the MR author of a comment still waiting for a response
func (f *Formatter) FollowUp(project models.Project, mr models.MergeRequest, note models.Note) string {
	return fmt.Sprintf(
		"⏰ *Reminder:* A comment on your merge request still needs a response\n"+
			"*Project:* %s\n"+
			"*MR:* %s\n"+
			"*Comment by:* %s\n"+
			"*Posted:* %s\n"+
			"*URL:* %s\n\n"+
			"```%s```",
		project.PathWithNamespace, mr.Title, note.Author, note.CreatedAt, f.CommentURL(project, mr, note.ID), escapeText(note.Body))
}

// AuthorResponded tells a reviewer the MR author answered their comment
func (f *Formatter) AuthorResponded(project models.Project, mr models.MergeRequest, response models.Note) string {
	return fmt.Sprintf(
		"✅ *MR author responded to your comment*\n"+
			"*Project:* %s\n"+
			"*MR:* %s\n"+
			"*Response by:* %s\n"+
			"*URL:* %s",
		project.PathWithNamespace, mr.Title, response.Author, f.CommentURL(project, mr, response.ID))
}

// escapeText keeps a Markdown note body verbatim apart from Slack's control characters
func escapeText(body string) string {
	return slackEscaper.Replace(strings.TrimSpace(body))
}
