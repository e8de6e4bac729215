// Package ui provides terminal UI components using Charm libraries.
//
// This package contains the styling, message printing and progress
// rendering used by the finops CLI.
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Brand colors for finops.
var (
	// Primary brand color
	Indigo = lipgloss.Color("#6366F1")

	// Secondary colors
	Teal    = lipgloss.Color("#14B8A6")
	Red     = lipgloss.Color("#EF4444")
	Amber   = lipgloss.Color("#F59E0B")
	Green   = lipgloss.Color("#22C55E")
	Gray    = lipgloss.Color("#6B7280")
	DimGray = lipgloss.Color("#9CA3AF")
)

// Text styles.
var (
	// TitleStyle for main headings
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Indigo)

	// SubtitleStyle for secondary headings
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(DimGray)

	// SuccessStyle for success messages
	SuccessStyle = lipgloss.NewStyle().
			Foreground(Green).
			Bold(true)

	// ErrorStyle for error messages
	ErrorStyle = lipgloss.NewStyle().
			Foreground(Red).
			Bold(true)

	// WarningStyle for warning messages
	WarningStyle = lipgloss.NewStyle().
			Foreground(Amber)

	// InfoStyle for informational messages
	InfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB"))

	// DimStyle for less important text
	DimStyle = lipgloss.NewStyle().
			Foreground(DimGray)

	// AccentStyle for option numbers and highlighted values
	AccentStyle = lipgloss.NewStyle().
			Foreground(Teal)

	// LinkStyle for URLs
	LinkStyle = lipgloss.NewStyle().
			Foreground(Indigo).
			Underline(true)

	// CodeStyle for inline code
	CodeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F3F4F6")).
			Background(lipgloss.Color("#374151")).
			Padding(0, 1)
)

// Box styles.
var (
	// BoxStyle for content boxes
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Indigo).
			Padding(0, 1)

	// BoxTitleStyle for box titles
	BoxTitleStyle = lipgloss.NewStyle().
			Foreground(Indigo).
			Bold(true)

	// ResultBoxSuccessStyle for finished jobs
	ResultBoxSuccessStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(Green).
				Padding(0, 1)

	// ResultBoxFailedStyle for failed jobs
	ResultBoxFailedStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(Red).
				Padding(0, 1)
)

// Table styles.
var (
	// TableHeaderStyle for table headers
	TableHeaderStyle = lipgloss.NewStyle().
				Foreground(DimGray).
				Bold(true)

	// TableCellStyle for table cells
	TableCellStyle = lipgloss.NewStyle()
)

// Progress styles.
var (
	// ProgressBarStyle for percentage bars of step updates
	ProgressBarStyle = lipgloss.NewStyle().
				Foreground(Indigo)

	// ProgressTrackStyle for the unfilled part of a percentage bar
	ProgressTrackStyle = lipgloss.NewStyle().
				Foreground(Gray)

	// StatusRunningStyle for the spinner and in-progress steps
	StatusRunningStyle = lipgloss.NewStyle().
				Foreground(Teal)
)
