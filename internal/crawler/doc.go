// Package crawler implements the user-directory crawl: the listing page fetcher
// with its retry policy, the per-entity detail fetcher, and the Crawler that
// drives both across pages. It also defines the record types and the
// collaborator interfaces shared by the rest of the pipeline.
package crawler
