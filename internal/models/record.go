// Package models defines core data structures for records, queries, and search results.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ItemType classifies a record.
type ItemType string

const (
	ItemNote     ItemType = "note"
	ItemTask     ItemType = "task"
	ItemResource ItemType = "resource"
)

// ErrUnknownItemType is returned by ParseItemType for unrecognized names.
var ErrUnknownItemType = errors.New("unknown item type")

// ParseItemType parses a type name; "res" is accepted as shorthand for resource.
func ParseItemType(s string) (ItemType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "note":
		return ItemNote, nil
	case "task":
		return ItemTask, nil
	case "resource", "res":
		return ItemResource, nil
	default:
		return "", fmt.Errorf("%w: %q (want note, task or resource)", ErrUnknownItemType, s)
	}
}

// Record is a stored note, task or resource. ID is assigned by the store and never reused.
type Record struct {
	ID              int64     `json:"id"`
	RawContent      string    `json:"raw_content"`
	EnhancedContent string    `json:"enhanced_content"`
	Type            ItemType  `json:"type"`
	Completed       bool      `json:"completed"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SearchText is the text the record's embedding is computed from.
func (r *Record) SearchText() string {
	if r.EnhancedContent != "" {
		return r.EnhancedContent
	}
	return r.RawContent
}

// RecordInput is the input for creating or updating a record.
type RecordInput struct {
	Content         string `json:"content"`
	EnhancedContent string `json:"enhanced_content,omitempty"`
	// Type forces the item type; empty means detect from tags and content.
	Type string `json:"type,omitempty"`
}

// ListFilter narrows ListRecords.
type ListFilter struct {
	Type          ItemType `json:"type,omitempty"`
	PendingOnly   bool     `json:"pending_only,omitempty"`
	CompletedOnly bool     `json:"completed_only,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	Offset        int      `json:"offset,omitempty"`
}
