// Package board holds the dashboard's projects, tasks and categories: the
// model, the Service that validates and stamps changes, the stores, and the
// pure board views (status columns, project lists).
package board
