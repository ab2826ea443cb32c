// Package report renders evaluation results for humans and for files: a
// terminal table, a CSV row, and a JSON document.
package report
