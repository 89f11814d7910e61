package turnitin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
)

// objectRef identifies one submission object inside an assignment slot.
type objectRef struct {
	OID      string
	Filename string
}

// launchTokenResponse is the shape of the viewer launch-token payload. Only
// the fields this client reads are declared.
type launchTokenResponse struct {
	Token   string `json:"token"`
	Payload struct {
		Config struct {
			Submissions map[string]json.RawMessage `json:"submissions"`
		} `json:"config"`
	} `json:"payload"`
}

// ResolveObjectID locates the object id and recorded filename for the
// reference identity's row in the slot's inbox.
func (c *Client) ResolveObjectID(ctx context.Context, slotID string) (oid, uploadedFilename string, err error) {
	cookie, err := c.cookies.Acquire(ctx)
	if err != nil {
		return "", "", err
	}
	ref, err := c.resolveObject(ctx, cookie, slotID)
	if err != nil {
		return "", "", err
	}
	return ref.OID, ref.Filename, nil
}

// resolveObject re-derives the class/slot context (which also registers any
// newly appeared slots) and scrapes the inbox page for the reference row.
func (c *Client) resolveObject(ctx context.Context, cookie, slotID string) (objectRef, error) {
	ctx, span := c.tracer.Start(ctx, "turnitin.resolve_object")
	defer span.End()
	span.SetAttributes(attribute.String("slot_id", slotID))

	classes, err := c.ListClasses(ctx, cookie)
	if err != nil {
		return objectRef{}, err
	}
	if _, err := c.ListSlots(ctx, cookie, classes[0].URL); err != nil {
		return objectRef{}, err
	}

	inboxURL := c.cfg.BaseURL + fmt.Sprintf(inboxPath, slotID)
	resp, body, err := c.get(ctx, inboxURL, cookie, 600*time.Second, nil)
	if err != nil {
		return objectRef{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return objectRef{}, fmt.Errorf("%w: inbox page returned HTTP %d", ErrTransient, resp.StatusCode)
	}

	text := string(body)
	if strings.Contains(text, loginRedirectMarker) {
		return objectRef{}, fmt.Errorf("%w: inbox page redirected to login for slot %s", ErrAuth, slotID)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return objectRef{}, fmt.Errorf("%w: parsing inbox page: %v", ErrNotFound, err)
	}

	table := doc.Find("table.inbox_table").First()
	if table.Length() == 0 {
		return objectRef{}, fmt.Errorf("%w: inbox table missing for slot %s", ErrNotFound, slotID)
	}

	row := table.Find("tr.student-" + c.cfg.UserID).First()
	if row.Length() == 0 {
		return objectRef{}, fmt.Errorf("%w: no submission row for user %s in slot %s", ErrNotFound, c.cfg.UserID, slotID)
	}

	checkbox := row.Find(`input[name="object_checkbox"]`).First()
	oid, ok := checkbox.Attr("value")
	if !ok || oid == "" {
		return objectRef{}, fmt.Errorf("%w: object id missing for slot %s", ErrNotFound, slotID)
	}
	filename, _ := checkbox.Attr("title")

	return objectRef{OID: oid, Filename: filename}, nil
}

// sessionTokens carries the short-lived identifiers for the report-generation
// service: the legacy launch token and the exchangeable session token.
type sessionTokens struct {
	TRN          string
	LegacyToken  string
	SessionToken string
}

// AIReport drives the multi-step AI-detection report protocol for the given
// slot and returns the PDF bytes.
func (c *Client) AIReport(ctx context.Context, slotID, filename string) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "turnitin.ai_report")
	defer span.End()
	span.SetAttributes(attribute.String("slot_id", slotID))

	cookie, err := c.cookies.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	ref, err := c.resolveObject(ctx, cookie, slotID)
	if err != nil {
		return nil, err
	}

	tokens, err := c.launchTokens(ctx, cookie, ref.OID)
	if err != nil {
		return nil, err
	}
	if err := c.refreshSessionToken(ctx, cookie, &tokens, slotID, ref.OID); err != nil {
		return nil, err
	}

	jobID, err := c.createReportJob(ctx, cookie, &tokens, slotID, ref.OID, filename)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("job_id", jobID))

	pdfURL, err := c.waitForReportJob(ctx, jobID, tokens.SessionToken)
	if err != nil {
		return nil, err
	}

	return c.download(ctx, pdfURL, cookie, 30*time.Second)
}

// launchTokens fetches the viewer launch payload and extracts the submission
// correlation token.
func (c *Client) launchTokens(ctx context.Context, cookie, oid string) (sessionTokens, error) {
	launchURL := c.cfg.EVURL + fmt.Sprintf(launchPath, oid)
	resp, body, err := c.get(ctx, launchURL, cookie, 600*time.Second, nil)
	if err != nil {
		return sessionTokens{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return sessionTokens{}, fmt.Errorf("%w: launch token endpoint returned HTTP %d", ErrTransient, resp.StatusCode)
	}

	var launch launchTokenResponse
	if err := json.Unmarshal(body, &launch); err != nil {
		return sessionTokens{}, fmt.Errorf("%w: decoding launch token payload: %v", ErrNotFound, err)
	}

	for key := range launch.Payload.Config.Submissions {
		if strings.HasPrefix(key, submissionKeyPrefix) {
			return sessionTokens{
				TRN:         strings.TrimPrefix(key, submissionKeyPrefix),
				LegacyToken: launch.Token,
			}, nil
		}
	}
	return sessionTokens{}, fmt.Errorf("%w: no submission key with prefix %q", ErrNotFound, submissionKeyPrefix)
}

// refreshSessionToken exchanges the legacy launch token for a short-lived
// session token. Called again whenever the report service answers 401.
func (c *Client) refreshSessionToken(ctx context.Context, cookie string, tokens *sessionTokens, slotID, oid string) error {
	sessionURL := c.cfg.EVURL + fmt.Sprintf(sessionPath, slotID, oid)
	resp, body, err := c.get(ctx, sessionURL, cookie, 600*time.Second, map[string]string{
		"Authorization": "Bearer " + tokens.LegacyToken,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: session token endpoint returned HTTP %d", ErrTransient, resp.StatusCode)
	}

	var payload struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("%w: decoding session token payload: %v", ErrNotFound, err)
	}
	if payload.SessionToken == "" {
		return fmt.Errorf("%w: session token absent", ErrAuth)
	}
	tokens.SessionToken = payload.SessionToken
	return nil
}

// createReportJob posts the report-generation request. A 401 means the
// session token expired mid-flow; refresh and retry, three attempts total.
func (c *Client) createReportJob(ctx context.Context, cookie string, tokens *sessionTokens, slotID, oid, filename string) (string, error) {
	className, err := c.settings.ActiveClassName(ctx)
	if err != nil {
		return "", fmt.Errorf("reading active class name: %w", err)
	}

	jobURL := c.cfg.SASURL + jobPath

	var lastStatus int
	for attempt := 0; attempt < jobCreateAttempts; attempt++ {
		reqBody, err := json.Marshal(c.reportJobRequest(tokens, className, filename))
		if err != nil {
			return "", fmt.Errorf("%w: encoding job request: %v", ErrTransient, err)
		}

		resp, body, err := c.do(ctx, request{
			method: http.MethodPost,
			url:    jobURL,
			body:   reqBody,
			headers: map[string]string{
				"Content-Type":   "application/json",
				"authentication": tokens.SessionToken,
			},
			timeout: 30 * time.Second,
		})
		if err != nil {
			return "", err
		}

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
			return strings.TrimSpace(string(body)), nil
		case resp.StatusCode == http.StatusUnauthorized:
			lastStatus = resp.StatusCode
			c.logger.Warn(ctx, "Report job creation unauthorized, refreshing session token", "attempt", attempt+1, "slot_id", slotID)
			if err := c.refreshSessionToken(ctx, cookie, tokens, slotID, oid); err != nil {
				return "", err
			}
			time.Sleep(time.Second)
		default:
			return "", fmt.Errorf("%w: report job creation returned HTTP %d: %s", ErrTransient, resp.StatusCode, strings.TrimSpace(string(body)))
		}
	}

	return "", fmt.Errorf("%w: report job creation kept returning HTTP %d after %d attempts", ErrAuth, lastStatus, jobCreateAttempts)
}

// reportJobRequest builds the job payload. Field names and the aiw extension
// block are part of the wire contract.
func (c *Client) reportJobRequest(tokens *sessionTokens, className, filename string) map[string]any {
	config := map[string]any{
		"environment":  "prod",
		"region":       "usw2",
		"locale":       "en-US",
		"legacyAuth":   tokens.LegacyToken,
		"sessionToken": tokens.SessionToken,
	}
	return map[string]any{
		"conversion":    "SUBMISSION_REPORT_PDF",
		"providerTag":   "sws",
		"submissionTrn": fmt.Sprintf("trn:oid:::1:%s", tokens.TRN),
		"extensions": []map[string]any{{
			"name": "aiw",
			"config": map[string]any{
				"environment":  "prod",
				"region":       "usw2",
				"locale":       "en-US",
				"sessionToken": tokens.SessionToken,
			},
			"params": map[string]any{"version": "2"},
		}},
		"config": config,
		"params": map[string]any{
			"author":          "No Repository Check",
			"submissionTitle": filename,
			"timeZone":        c.cfg.TimeZone,
			"orgName":         c.cfg.OrgName,
			"classTitle":      className,
			"assignmentTitle": filename,
		},
	}
}

// waitForReportJob polls the job until it reports SUCCESS or FAILED and
// returns the artifact URL.
func (c *Client) waitForReportJob(ctx context.Context, jobID, sessionToken string) (string, error) {
	statusURL := fmt.Sprintf("%s%s/%s", c.cfg.SASURL, jobPath, jobID)

	var pdfURL string
	spec := newPollSpec(reportMaxAttempts, backoff.NewConstantBackOff(reportInterval), "AI report job")
	err := spec.run(ctx, func(ctx context.Context) (bool, error) {
		resp, body, err := c.do(ctx, request{
			method: http.MethodGet,
			url:    statusURL,
			headers: map[string]string{
				"Content-Type":   "application/json",
				"authentication": sessionToken,
			},
			timeout: 600 * time.Second,
		})
		if err != nil {
			return false, err
		}
		if resp.StatusCode != http.StatusOK {
			return false, fmt.Errorf("%w: job status returned HTTP %d", ErrTransient, resp.StatusCode)
		}

		var payload struct {
			Status string `json:"status"`
			URL    string `json:"url"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return false, fmt.Errorf("%w: decoding job status: %v", ErrNotFound, err)
		}

		switch payload.Status {
		case "SUCCESS":
			pdfURL = payload.URL
			return true, nil
		case "FAILED":
			return false, fmt.Errorf("%w: report generation failed for job %s", ErrTransient, jobID)
		default:
			return false, nil
		}
	})
	if err != nil {
		return "", err
	}
	return pdfURL, nil
}

// SimilarityReport retrieves the plagiarism-comparison PDF for the given
// slot: set the filter options, request a download ticket, poll it until
// ready, then fetch the bytes.
func (c *Client) SimilarityReport(ctx context.Context, slotID string) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "turnitin.similarity_report")
	defer span.End()
	span.SetAttributes(attribute.String("slot_id", slotID))

	cookie, err := c.cookies.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	ref, err := c.resolveObject(ctx, cookie, slotID)
	if err != nil {
		return nil, err
	}

	// Prime the viewer session; the ticket endpoints 404 without it.
	if _, _, err := c.get(ctx, c.cfg.EVURL+cartaPath+ref.OID, cookie, 600*time.Second, nil); err != nil {
		return nil, err
	}

	if err := c.sendFilterOptions(ctx, cookie, ref.OID); err != nil {
		return nil, err
	}

	ticketURL, err := c.acquireDownloadTicket(ctx, cookie, ref.OID)
	if err != nil {
		return nil, err
	}

	finalURL, err := c.waitForTicket(ctx, cookie, ticketURL)
	if err != nil {
		return nil, err
	}

	return c.download(ctx, finalURL, cookie, 30*time.Second)
}

// sendFilterOptions applies the similarity filters (exclude template, quotes
// and bibliography; keep small matches) and confirms them with a read back.
func (c *Client) sendFilterOptions(ctx context.Context, cookie, oid string) error {
	filterURL := c.cfg.EVURL + fmt.Sprintf(filterPath, oid)

	options := map[string]any{
		"exclude_assignment_template": 1,
		"exclude_quotes":              1,
		"exclude_biblio":              1,
		"exclude_small_matches":       0,
		"id":                          oid + "_0",
		"paper":                       oid,
		"translate_language":          0,
	}
	body, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("%w: encoding filter options: %v", ErrTransient, err)
	}

	resp, _, err := c.do(ctx, request{
		method: http.MethodPut,
		url:    filterURL,
		body:   body,
		headers: map[string]string{
			"Cookie":       cookie,
			"Content-Type": "application/json",
		},
		timeout: 600 * time.Second,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: filter update returned HTTP %d", ErrTransient, resp.StatusCode)
	}

	// Confirmatory read; the platform only commits the options after it.
	if _, _, err := c.get(ctx, filterURL, cookie, 600*time.Second, nil); err != nil {
		return err
	}
	return nil
}

// acquireDownloadTicket requests the async PDF build and returns the ticket
// URL to poll.
func (c *Client) acquireDownloadTicket(ctx context.Context, cookie, oid string) (string, error) {
	queueURL := c.cfg.EVURL + fmt.Sprintf(queuePDFPath, oid)

	body, err := json.Marshal(map[string]any{
		"as":                    1,
		"or_type":               "similarity",
		"or_translate_language": 0,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encoding ticket request: %v", ErrTransient, err)
	}

	resp, respBody, err := c.do(ctx, request{
		method: http.MethodPost,
		url:    queueURL,
		body:   body,
		headers: map[string]string{
			"Cookie":       cookie,
			"Content-Type": "application/json",
		},
		timeout: 600 * time.Second,
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: ticket request returned HTTP %d", ErrTransient, resp.StatusCode)
	}

	var payload struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return "", fmt.Errorf("%w: decoding ticket payload: %v", ErrNotFound, err)
	}
	if payload.URL == "" {
		return "", fmt.Errorf("%w: ticket payload carries no url", ErrNotFound)
	}
	return payload.URL, nil
}

// waitForTicket polls the download ticket until its readiness flag is set.
func (c *Client) waitForTicket(ctx context.Context, cookie, ticketURL string) (string, error) {
	var finalURL string
	spec := newPollSpec(reportMaxAttempts, backoff.NewConstantBackOff(reportInterval), "similarity download ticket")
	err := spec.run(ctx, func(ctx context.Context) (bool, error) {
		_, body, err := c.get(ctx, ticketURL+"&cv=1&output=json", cookie, 600*time.Second, nil)
		if err != nil {
			return false, err
		}

		var payload struct {
			Ready int    `json:"ready"`
			URL   string `json:"url"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return false, fmt.Errorf("%w: decoding ticket status: %v", ErrNotFound, err)
		}
		if payload.Ready == 1 {
			finalURL = payload.URL
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}
	return finalURL, nil
}

// download fetches artifact bytes from a fully resolved URL.
func (c *Client) download(ctx context.Context, rawURL, cookie string, timeout time.Duration) ([]byte, error) {
	resp, body, err := c.get(ctx, rawURL, cookie, timeout, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: artifact download returned HTTP %d", ErrTransient, resp.StatusCode)
	}
	return body, nil
}
