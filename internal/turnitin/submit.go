package turnitin

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pibicha/turnitin-admin/internal/domain/submission"
)

var (
	classIDPattern = regexp.MustCompile(`/class/(\d+)/`)
	uuidPattern    = regexp.MustCompile(`"uuid":"([^"]+)"`)
)

// Class is a target group on the external platform.
type Class struct {
	Title string
	URL   string
}

// SlotInfo is an assignment slot discovered on a class page, reconciled
// against local state.
type SlotInfo struct {
	ExternalID     string
	Title          string
	SubmissionLink string
	UploadCount    int
}

// ListClasses fetches the session homepage and returns the classes whose name
// exactly matches the configured active class.
func (c *Client) ListClasses(ctx context.Context, cookie string) ([]Class, error) {
	ctx, span := c.tracer.Start(ctx, "turnitin.list_classes")
	defer span.End()

	className, err := c.settings.ActiveClassName(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading active class name: %w", err)
	}

	resp, body, err := c.get(ctx, c.cfg.BaseURL+homepagePath, cookie, 600*time.Second, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: homepage returned HTTP %d", ErrTransient, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing homepage: %v", ErrNotFound, err)
	}

	var classes []Class
	doc.Find("td.class_name a").Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Text())
		href, ok := sel.Attr("href")
		if !ok || title != className {
			return
		}
		classes = append(classes, Class{Title: title, URL: c.cfg.BaseURL + href})
	})

	if len(classes) == 0 {
		return nil, fmt.Errorf("%w: class %q not present on homepage", ErrNotFound, className)
	}

	span.SetAttributes(attribute.Int("num_classes", len(classes)))
	return classes, nil
}

// ListSlots fetches the class detail page, extracts the submission-inbox slot
// ids, and reconciles them against locally known slots. Slots never seen
// before are registered with a zero upload count.
func (c *Client) ListSlots(ctx context.Context, cookie, classURL string) ([]SlotInfo, error) {
	ctx, span := c.tracer.Start(ctx, "turnitin.list_slots")
	defer span.End()

	m := classIDPattern.FindStringSubmatch(classURL)
	if m == nil {
		return nil, fmt.Errorf("%w: class URL %q has no numeric id", ErrNotFound, classURL)
	}
	detailURL := fmt.Sprintf("%s/class/%s/instructor_home?lang=%s", c.cfg.BaseURL, m[1], langENUS)

	resp, body, err := c.get(ctx, detailURL, cookie, 600*time.Second, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: class page returned HTTP %d", ErrTransient, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing class page: %v", ErrNotFound, err)
	}

	var externalIDs []string
	doc.Find("tr.assgn-row").Each(func(_ int, row *goquery.Selection) {
		anchor := row.Find(`td.assgn-inbox a[id^="view_inbox_"]`).First()
		id, ok := anchor.Attr("id")
		if !ok {
			return
		}
		externalIDs = append(externalIDs, strings.TrimPrefix(id, "view_inbox_"))
	})

	if len(externalIDs) == 0 {
		return nil, fmt.Errorf("%w: no submission-inbox rows on class page", ErrNotFound)
	}

	slots := make([]SlotInfo, 0, len(externalIDs))
	for _, externalID := range externalIDs {
		slot, err := c.slots.GetByExternalID(ctx, externalID)
		if err != nil {
			return nil, fmt.Errorf("reading slot %s: %w", externalID, err)
		}
		if slot == nil {
			slot, err = submission.NewSlot(externalID)
			if err != nil {
				return nil, fmt.Errorf("registering slot %s: %w", externalID, err)
			}
			if err := c.slots.Create(ctx, slot); err != nil {
				return nil, fmt.Errorf("registering slot %s: %w", externalID, err)
			}
		}
		slots = append(slots, SlotInfo{
			ExternalID:     externalID,
			Title:          fmt.Sprintf("Assignment %s", externalID),
			SubmissionLink: fmt.Sprintf("%s&port=%s", classURL, externalID),
			UploadCount:    slot.UploadCount(),
		})
	}

	span.SetAttributes(attribute.Int("num_slots", len(slots)))
	return slots, nil
}

// selectSlot picks the eligible slot with the minimal upload count. Ties
// resolve to the slot discovered first.
func selectSlot(slots []SlotInfo, excluded []string) (SlotInfo, bool) {
	isExcluded := func(id string) bool {
		for _, e := range excluded {
			if e == id {
				return true
			}
		}
		return false
	}

	var best SlotInfo
	found := false
	for _, s := range slots {
		if isExcluded(s.ExternalID) {
			continue
		}
		if !found || s.UploadCount < best.UploadCount {
			best = s
			found = true
		}
	}
	return best, found
}

// Submit uploads a document into the least-used eligible slot and confirms
// acceptance. The returned slot id is set even on failure once a slot was
// chosen, so callers can exclude it from the next attempt.
func (c *Client) Submit(ctx context.Context, title, filename string, fileBytes []byte, excludedSlotIDs []string) (slotID string, err error) {
	ctx, span := c.tracer.Start(ctx, "turnitin.submit")
	defer span.End()

	cookie, err := c.cookies.Acquire(ctx)
	if err != nil {
		return "", err
	}

	classes, err := c.ListClasses(ctx, cookie)
	if err != nil {
		return "", err
	}
	classURL := classes[0].URL

	slots, err := c.ListSlots(ctx, cookie, classURL)
	if err != nil {
		return "", err
	}

	slot, ok := selectSlot(slots, excludedSlotIDs)
	if !ok {
		return "", fmt.Errorf("%w: no eligible slot remaining", ErrNotFound)
	}
	slotID = slot.ExternalID
	span.SetAttributes(attribute.String("slot_id", slotID))

	sessionID, err := extractSessionID(cookie)
	if err != nil {
		return slotID, err
	}

	uuid, err := c.postDocument(ctx, cookie, sessionID, slotID, title, filename, fileBytes)
	if err != nil {
		return slotID, err
	}

	if err := c.waitForMetadata(ctx, cookie, sessionID, uuid); err != nil {
		return slotID, err
	}

	if err := c.confirmSubmission(ctx, cookie, sessionID, uuid); err != nil {
		return slotID, err
	}

	// The platform occasionally accepts the form yet drops the file. Read the
	// recorded filename back and require a shared 10-character prefix.
	ref, err := c.resolveObject(ctx, cookie, slotID)
	if err != nil {
		return slotID, err
	}
	if ref.Filename == "" || !strings.Contains(filename, prefix10(ref.Filename)) {
		c.logger.Error(ctx, "Uploaded filename mismatch", "slot_id", slotID, "recorded", ref.Filename, "submitted", filename)
		return slotID, fmt.Errorf("%w: slot %s recorded %q for upload %q", ErrIntegrity, slotID, ref.Filename, filename)
	}

	if err := c.slots.IncrementUploadCount(ctx, slotID); err != nil {
		return slotID, fmt.Errorf("incrementing upload count for slot %s: %w", slotID, err)
	}

	c.logger.Info(ctx, "Document accepted", "slot_id", slotID, "title", title)
	return slotID, nil
}

func prefix10(s string) string {
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

// postDocument sends the multipart submission form and extracts the
// correlation uuid from the response body.
func (c *Client) postDocument(ctx context.Context, cookie, sessionID, slotID, title, filename string, fileBytes []byte) (string, error) {
	var buf strings.Builder
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"async_request": "1",
		"userID":        c.cfg.UserID,
		"author_first":  authorFirst,
		"author_last":   authorLast,
		"title":         title,
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", fmt.Errorf("%w: building form: %v", ErrTransient, err)
		}
	}

	part, err := w.CreateFormFile("userfile", filename)
	if err != nil {
		return "", fmt.Errorf("%w: building form: %v", ErrTransient, err)
	}
	if _, err := part.Write(fileBytes); err != nil {
		return "", fmt.Errorf("%w: building form: %v", ErrTransient, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: building form: %v", ErrTransient, err)
	}

	submitURL := fmt.Sprintf("%s%s?aid=%s&session-id=%s&lang=%s", c.cfg.BaseURL, submitPath, slotID, sessionID, langENUS)
	referer := fmt.Sprintf("%s%s?aid=%s&lang=%s", c.cfg.BaseURL, submitPath, slotID, langENUS)

	resp, body, err := c.do(ctx, request{
		method: http.MethodPost,
		url:    submitURL,
		body:   []byte(buf.String()),
		headers: map[string]string{
			"Cookie":       cookie,
			"Referer":      referer,
			"Content-Type": w.FormDataContentType(),
		},
		timeout: 120 * time.Second,
	})
	if err != nil {
		return "", err
	}

	// The platform answers the async form with a 302 to the receipt page;
	// follow it exactly once.
	if resp.StatusCode == http.StatusFound {
		location := resp.Header.Get("Location")
		if location == "" {
			return "", fmt.Errorf("%w: redirect without Location", ErrTransient)
		}
		redirectURL, rerr := c.resolveURL(location)
		if rerr != nil {
			return "", rerr
		}
		resp, body, err = c.get(ctx, redirectURL, cookie, 600*time.Second, nil)
		if err != nil {
			return "", err
		}
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: submit returned HTTP %d", ErrTransient, resp.StatusCode)
	}

	m := uuidPattern.FindStringSubmatch(string(body))
	if m == nil {
		return "", fmt.Errorf("%w: submit response carries no uuid", ErrIntegrity)
	}
	return m[1], nil
}

func (c *Client) resolveURL(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: bad redirect target %q: %v", ErrTransient, location, err)
	}
	if u.IsAbs() {
		return location, nil
	}
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("%w: bad base URL: %v", ErrTransient, err)
	}
	return base.ResolveReference(u).String(), nil
}

// waitForMetadata polls the submission metadata endpoint until the platform
// reports explicit success or failure. The endpoint has no schema; the
// status markers are matched as raw substrings, as observed on the wire.
func (c *Client) waitForMetadata(ctx context.Context, cookie, sessionID, uuid string) error {
	metadataURL := fmt.Sprintf("%s%s?uuid=%s&session-id=%s&lang=%s&skip_ready_check=0",
		c.cfg.BaseURL, metadataPath, uuid, sessionID, langENUS)

	spec := newPollSpec(metadataMaxAttempts, backoff.NewConstantBackOff(metadataInterval), "submission metadata")
	return spec.run(ctx, func(ctx context.Context) (bool, error) {
		_, body, err := c.do(ctx, request{
			method: http.MethodPost,
			url:    metadataURL,
			headers: map[string]string{
				"Cookie": cookie,
				"Accept": acceptJSON,
			},
			timeout: 10 * time.Second,
		})
		if err != nil {
			return false, err
		}
		switch {
		case strings.Contains(string(body), `"status":1`):
			return true, nil
		case strings.Contains(string(body), `"status":-1`):
			return false, fmt.Errorf("%w: platform rejected submission %s", ErrTransient, uuid)
		default:
			return false, nil
		}
	})
}

// confirmSubmission acknowledges the accepted upload.
func (c *Client) confirmSubmission(ctx context.Context, cookie, sessionID, uuid string) error {
	confirmURL := fmt.Sprintf("%s%s?lang=%s&sessionid=%s&data-state=confirm&uuid=%s",
		c.cfg.BaseURL, confirmPath, langENUS, sessionID, uuid)

	form := url.Values{}
	form.Set("data-state", "confirm")
	form.Set("uuid", uuid)

	resp, _, err := c.do(ctx, request{
		method: http.MethodPost,
		url:    confirmURL,
		body:   []byte(form.Encode()),
		headers: map[string]string{
			"Cookie":       cookie,
			"Content-Type": contentForm,
		},
		timeout: 600 * time.Second,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: confirm returned HTTP %d", ErrTransient, resp.StatusCode)
	}
	return nil
}

// DeleteSlot removes an assignment slot from the class. Administrative
// operation, not part of the sweep cycle.
func (c *Client) DeleteSlot(ctx context.Context, slotID, classURL string) error {
	ctx, span := c.tracer.Start(ctx, "turnitin.delete_slot")
	defer span.End()

	cookie, err := c.cookies.Acquire(ctx)
	if err != nil {
		return err
	}
	sessionID, err := extractSessionID(cookie)
	if err != nil {
		return err
	}

	deleteURL := fmt.Sprintf("%s/class_home?lang=%s&session-id=%s&victim=%s", classURL, langENUS, sessionID, slotID)

	form := url.Values{}
	form.Set("victim", slotID)

	resp, _, err := c.do(ctx, request{
		method: http.MethodPost,
		url:    deleteURL,
		body:   []byte(form.Encode()),
		headers: map[string]string{
			"Cookie":       cookie,
			"Content-Type": contentForm,
			"Referer":      classURL,
		},
		timeout: 600 * time.Second,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: slot delete returned HTTP %d", ErrTransient, resp.StatusCode)
	}
	return nil
}
