package models

import "time"

// Project is a GitLab project being watched for merge request comments
type Project struct {
	ID                int    `json:"id" yaml:"id"`
	PathWithNamespace string `json:"path_with_namespace" yaml:"path_with_namespace"`
}

// User is the subset of a GitLab user the bot cares about
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// MergeRequest represents an open review request on a project
type MergeRequest struct {
	IID       int      `json:"iid"`
	Title     string   `json:"title"`
	Author    string   `json:"author"`
	Reviewers []string `json:"reviewers"`
	WebURL    string   `json:"web_url"`
}

// Discussion is an ordered thread of notes attached to a merge request
type Discussion struct {
	ID    string `json:"id"`
	Notes []Note `json:"notes"`
}

// Note is a single message inside a discussion
type Note struct {
	ID        int    `json:"id"`
	Body      string `json:"body"`
	Author    string `json:"author"`
	CreatedAt string `json:"created_at"` // as received from GitLab
	System    bool   `json:"system"`
}

// CommentRecord is the persisted tracking state of a single comment
type CommentRecord struct {
	ProjectID       int    `json:"project_id"`
	ReviewRequestID int    `json:"review_request_id"`
	Author          string `json:"author"`
	CreatedAt       string `json:"created_at"`
	NotifiedAt      string `json:"notified_at"`
	Responded       bool   `json:"responded"`
	Responder       string `json:"responder,omitempty"`
	FollowupSent    bool   `json:"followup_sent"`
}

// Ledger maps a GitLab note ID to its tracking record
type Ledger map[string]*CommentRecord

// Alert represents an operator notification about the bot itself
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // "error", "warning", "info"
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
