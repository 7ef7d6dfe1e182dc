// Package textutil provides tokenization, term-frequency fingerprints and
// similarity measures shared by retrieval, pause analysis and summarization.
//
// Tokens are lowercase alphanumeric runs of at least three characters.
// Content tokens additionally exclude a small English stopword list.
package textutil
