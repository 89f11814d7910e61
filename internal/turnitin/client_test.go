package turnitin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pibicha/turnitin-admin/internal/infra/storage"
	"github.com/pibicha/turnitin-admin/internal/infra/storage/submission/memory"
	"github.com/pibicha/turnitin-admin/pkg/common/logger"
)

// platform is a scripted stand-in for the external site. It serves the
// scraping surface one submission flow touches.
type platform struct {
	mux *http.ServeMux
	srv *httptest.Server

	// jobUnauthorized counts down 401 responses before /job succeeds.
	jobUnauthorized atomic.Int32
	jobCalls        atomic.Int32
}

func newPlatform(t *testing.T) *platform {
	t.Helper()

	p := &platform{mux: http.NewServeMux()}
	p.srv = httptest.NewServer(p.mux)
	t.Cleanup(p.srv.Close)

	p.mux.HandleFunc("/t_home.asp", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><table>
			<tr><td class="class_name"><a href="/class/123/home">Other Class</a></td></tr>
			<tr><td class="class_name"><a href="/class/456/home">Active Class</a></td></tr>
		</table></html>`)
	})

	p.mux.HandleFunc("/class/456/instructor_home", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><table>
			<tr class="assgn-row"><td class="assgn-inbox"><a id="view_inbox_111">inbox</a></td></tr>
			<tr class="assgn-row"><td class="assgn-inbox"><a id="view_inbox_222">inbox</a></td></tr>
		</table></html>`)
	})

	p.mux.HandleFunc("/t_submit.asp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Location", "/receipt.asp")
		w.WriteHeader(http.StatusFound)
	})

	p.mux.HandleFunc("/receipt.asp", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<script>var data = {"uuid":"corr-uuid-1"};</script>`)
	})

	p.mux.HandleFunc("/panda/get_submission_metadata.asp", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":1}`)
	})

	p.mux.HandleFunc("/submit_confirm.asp", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	p.mux.HandleFunc("/assignment/type/paper/inbox/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><table class="inbox_table">
			<tr class="student-1176483583"><td>
				<input name="object_checkbox" value="987654" title="paper.docx"/>
			</td></tr>
		</table></html>`)
	})

	p.mux.HandleFunc("/paper/987654/sws_launch_token", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"token":"legacy-token","payload":{"config":{"submissions":{"oid:1:trn-abc":{}}}}}`)
	})

	p.mux.HandleFunc("/assignment/111/session_token", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"session_token":"sess-token"}`)
	})

	p.mux.HandleFunc("/job", func(w http.ResponseWriter, r *http.Request) {
		p.jobCalls.Add(1)
		if p.jobUnauthorized.Load() > 0 {
			p.jobUnauthorized.Add(-1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, " job-1 ")
	})

	p.mux.HandleFunc("/job/job-1", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "SUCCESS",
			"url":    p.srv.URL + "/artifact.pdf",
		})
	})

	p.mux.HandleFunc("/artifact.pdf", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ai-pdf-bytes")
	})

	p.mux.HandleFunc("/app/carta/en_us/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	p.mux.HandleFunc("/paper/987654/similarity/options", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{}`)
	})

	p.mux.HandleFunc("/paper/987654/queue_pdf", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"url": p.srv.URL + "/ticket?tok=1"})
	})

	p.mux.HandleFunc("/ticket", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ready": 1, "url": p.srv.URL + "/sim.pdf"})
	})

	p.mux.HandleFunc("/sim.pdf", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "sim-pdf-bytes")
	})

	return p
}

func newTestClient(t *testing.T, p *platform) (*Client, *memory.SlotStore) {
	t.Helper()

	slots := memory.NewSlotStore()
	cfg := Config{
		BaseURL:  p.srv.URL,
		EVURL:    p.srv.URL,
		SASURL:   p.srv.URL,
		OrgName:  "Test Org",
		TimeZone: "Asia/Jakarta",
	}
	log := logger.New(io.Discard, logger.LevelInfo, "test", nil)
	client := NewClient(cfg, NewDevCookieSource(), memory.NewSettingsStore("Active Class"), slots, storage.NoOpTracer(), log)
	return client, slots
}

func TestSubmitFullFlow(t *testing.T) {
	p := newPlatform(t)
	client, slots := newTestClient(t, p)

	slotID, err := client.Submit(context.Background(), "paper", "paper.docx", []byte("doc-bytes"), nil)
	require.NoError(t, err)
	assert.Equal(t, "111", slotID)

	slot, err := slots.GetByExternalID(context.Background(), "111")
	require.NoError(t, err)
	require.NotNil(t, slot)
	assert.Equal(t, 1, slot.UploadCount())
}

func TestSubmitExcludedSlotPicksNext(t *testing.T) {
	p := newPlatform(t)
	client, _ := newTestClient(t, p)

	slotID, err := client.Submit(context.Background(), "paper", "paper.docx", []byte("doc-bytes"), []string{"111"})
	require.NoError(t, err)
	assert.Equal(t, "222", slotID)
}

func TestSubmitNoEligibleSlot(t *testing.T) {
	p := newPlatform(t)
	client, _ := newTestClient(t, p)

	_, err := client.Submit(context.Background(), "paper", "paper.docx", []byte("doc-bytes"), []string{"111", "222"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitFilenameMismatchIsIntegrityError(t *testing.T) {
	p := newPlatform(t)
	client, _ := newTestClient(t, p)

	slotID, err := client.Submit(context.Background(), "other", "completely-different.docx", []byte("doc-bytes"), nil)
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.Equal(t, "111", slotID, "attempted slot is reported so callers can exclude it")
}

func TestSubmitUnknownClassIsNotFound(t *testing.T) {
	p := newPlatform(t)

	slots := memory.NewSlotStore()
	log := logger.New(io.Discard, logger.LevelInfo, "test", nil)
	client := NewClient(
		Config{BaseURL: p.srv.URL, EVURL: p.srv.URL, SASURL: p.srv.URL},
		NewDevCookieSource(), memory.NewSettingsStore("No Such Class"), slots, storage.NoOpTracer(), log,
	)

	_, err := client.Submit(context.Background(), "paper", "paper.docx", []byte("doc-bytes"), nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSelectSlotPrefersMinimalUploadCount(t *testing.T) {
	t.Parallel()

	slots := []SlotInfo{
		{ExternalID: "1", UploadCount: 3},
		{ExternalID: "2", UploadCount: 1},
		{ExternalID: "3", UploadCount: 1},
	}

	best, ok := selectSlot(slots, nil)
	require.True(t, ok)
	assert.Equal(t, "2", best.ExternalID, "ties resolve to the first-discovered slot")

	best, ok = selectSlot(slots, []string{"2"})
	require.True(t, ok)
	assert.Equal(t, "3", best.ExternalID)

	_, ok = selectSlot(slots, []string{"1", "2", "3"})
	assert.False(t, ok)
}

func TestResolveObjectID(t *testing.T) {
	p := newPlatform(t)
	client, _ := newTestClient(t, p)

	oid, filename, err := client.ResolveObjectID(context.Background(), "111")
	require.NoError(t, err)
	assert.Equal(t, "987654", oid)
	assert.Equal(t, "paper.docx", filename)
}

func TestResolveObjectLoginRedirectIsAuthError(t *testing.T) {
	p := newPlatform(t)
	p.mux.HandleFunc("/assignment/type/paper/inbox/333", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html>Log in to Turnitin</html>`)
	})
	client, _ := newTestClient(t, p)

	_, _, err := client.ResolveObjectID(context.Background(), "333")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestAIReportHappyPath(t *testing.T) {
	p := newPlatform(t)
	client, _ := newTestClient(t, p)

	pdf, err := client.AIReport(context.Background(), "111", "paper.docx")
	require.NoError(t, err)
	assert.Equal(t, []byte("ai-pdf-bytes"), pdf)
	assert.Equal(t, int32(1), p.jobCalls.Load())
}

func TestAIReportRetriesTwiceOnUnauthorized(t *testing.T) {
	p := newPlatform(t)
	p.jobUnauthorized.Store(2)
	client, _ := newTestClient(t, p)

	pdf, err := client.AIReport(context.Background(), "111", "paper.docx")
	require.NoError(t, err)
	assert.Equal(t, []byte("ai-pdf-bytes"), pdf)
	assert.Equal(t, int32(3), p.jobCalls.Load())
}

func TestAIReportFailsAfterThreeUnauthorized(t *testing.T) {
	p := newPlatform(t)
	p.jobUnauthorized.Store(10)
	client, _ := newTestClient(t, p)

	_, err := client.AIReport(context.Background(), "111", "paper.docx")
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, int32(3), p.jobCalls.Load())
}

func TestSimilarityReportHappyPath(t *testing.T) {
	p := newPlatform(t)
	client, _ := newTestClient(t, p)

	pdf, err := client.SimilarityReport(context.Background(), "111")
	require.NoError(t, err)
	assert.Equal(t, []byte("sim-pdf-bytes"), pdf)
}
