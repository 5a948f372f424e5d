package pipeline

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/quarryworks/quarry/internal/bus"
	"github.com/quarryworks/quarry/internal/metrics"
	"github.com/quarryworks/quarry/internal/models"
)

const (
	summaryMaxChars = 280
	keywordCount    = 8
	reaperPeriod    = time.Minute
)

// handleJoin is the enrichment fan-in. It fires on both document.indexed and
// graph.updated; the document only proceeds once every path its mode requires
// has a completion record. An event arriving before the other path is done
// acks cleanly and waits for the sibling to re-trigger the join.
func (p *Pipeline) handleJoin(ctx context.Context, env models.Envelope) error {
	snap, err := p.Snapshots.GetSnapshotByWorkspace(ctx, env.WorkspaceID)
	if err != nil {
		if errors.Is(err, models.ErrSnapshotNotFound) {
			// Workspace deleted mid-pipeline.
			return nil
		}

		return err
	}

	done, err := p.Docs.CompletedPaths(ctx, env.DocumentID)
	if err != nil {
		return err
	}

	completed := make(map[string]bool, len(done))
	for _, path := range done {
		completed[path] = true
	}

	for _, required := range models.RequiredPaths(snap.Mode) {
		if !completed[required] {
			return nil
		}
	}

	doc, err := p.Docs.GetDocument(ctx, env.DocumentID)
	if err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			return nil
		}

		return err
	}

	// Both paths finishing near-simultaneously can race here; the loser sees
	// a terminal document and skips. Enrichment output is deterministic, so a
	// double run before the ready advance is harmless.
	if doc.Status.Terminal() {
		return nil
	}

	if err := p.advance(ctx, doc.ID, models.DocEnriching); err != nil {
		return err
	}

	text, err := p.Docs.GetParsedText(ctx, doc.ID)
	if err != nil {
		return err
	}

	if err := p.Docs.SetEnrichment(ctx, doc.ID, summarize(text), keywordsFrom(text)); err != nil {
		return err
	}

	if err := p.advance(ctx, doc.ID, models.DocReady); err != nil {
		return err
	}

	metrics.DocumentsReady.Inc()

	return p.forward(ctx, bus.TopicDocumentEnriched, env)
}

// summarize takes the leading text up to the budget, cut at a word boundary.
func summarize(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= summaryMaxChars {
		return text
	}

	cut := summaryMaxChars
	if i := strings.LastIndexFunc(text[:cut], unicode.IsSpace); i > summaryMaxChars/2 {
		cut = i
	}

	return strings.TrimSpace(text[:cut]) + "…"
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "with": true,
	"this": true, "from": true, "have": true, "are": true, "was": true,
	"were": true, "they": true, "their": true, "which": true, "will": true,
	"would": true, "been": true, "has": true, "had": true, "not": true,
	"but": true, "can": true, "its": true, "also": true, "into": true,
}

// keywordsFrom picks the most frequent non-stopword terms, most frequent
// first, ties broken lexically so redeliveries produce identical output.
func keywordsFrom(text string) []string {
	counts := make(map[string]int)

	for _, field := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		word := strings.ToLower(field)
		if len(word) < 4 || stopwords[word] {
			continue
		}

		counts[word]++
	}

	words := make([]string, 0, len(counts))
	for word := range counts {
		words = append(words, word)
	}

	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}

		return words[i] < words[j]
	})

	if len(words) > keywordCount {
		words = words[:keywordCount]
	}

	return words
}

// RunReaper periodically fails documents stuck waiting on a sub-pipeline path
// longer than the join timeout, so a lost half of a hybrid fan-in surfaces as
// failed instead of a document frozen in indexing. Blocks until ctx is done.
func (p *Pipeline) RunReaper(ctx context.Context) {
	if p.HybridJoinTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(reaperPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapStaleJoins(ctx)
		}
	}
}

func (p *Pipeline) reapStaleJoins(ctx context.Context) {
	stale, err := p.Docs.StaleJoins(ctx, p.HybridJoinTimeout)
	if err != nil {
		p.Log.WithError(err).Error("failed to scan for stale pipeline joins")

		return
	}

	for _, doc := range stale {
		err := p.Docs.MarkFailed(ctx, doc.ID, "timed out waiting for pipeline paths to complete")
		if err != nil {
			p.Log.WithError(err).WithField("document_id", doc.ID).Error("failed to reap stale document")

			continue
		}

		metrics.DocumentsFailed.Inc()

		p.Log.WithFields(logrus.Fields{
			"document_id":  doc.ID,
			"workspace_id": doc.WorkspaceID,
		}).Warn("reaped document stuck in pipeline join")
	}
}
