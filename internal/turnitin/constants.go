package turnitin

import "time"

// The external platform exposes no API; these values are the wire contract
// observed from its server-rendered pages and internal JSON endpoints. Do not
// tidy them up.
const (
	defaultBaseURL = "https://www.turnitin.com"
	defaultEVURL   = "https://ev.turnitin.com"
	defaultSASURL  = "https://sas-api-usw2.sas.turnitin.com"

	homepagePath = "/t_home.asp"
	submitPath   = "/t_submit.asp"
	confirmPath  = "/submit_confirm.asp"
	metadataPath = "/panda/get_submission_metadata.asp"
	inboxPath    = "/assignment/type/paper/inbox/%s?lang=en_us"

	// The viewer URL embeds a fixed account id; it is part of the contract.
	cartaPath    = "/app/carta/en_us/?ro=103&lang=en_us&s=1&u=1176178090&o="
	filterPath   = "/paper/%s/similarity/options?lang=en_us&cv=1&output=json&tl=0"
	queuePDFPath = "/paper/%s/queue_pdf?lang=en_us&cv=1&output=json"
	launchPath   = "/paper/%s/sws_launch_token?lang=en_us&cv=1&output=json"
	sessionPath  = "/assignment/%s/session_token?lang=en_us&cv=1&output=json&o=%s"
	jobPath      = "/job"

	userAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/91.0.4472.124"
	acceptHTML  = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	acceptJSON  = "application/json, text/javascript, */*; q=0.01"
	acceptText  = "text/plain"
	contentForm = "application/x-www-form-urlencoded"

	sessionIDKey       = "session-id"
	legacySessionIDKey = "legacy-session-id"
	cookieSeparator    = "; "

	defaultUserID = "1176483583"
	authorFirst   = "No Repository"
	authorLast    = "Check"
	langENUS      = "en_us"

	// Submission metadata is polled for up to six minutes; report jobs and
	// download tickets get thirty seconds.
	metadataMaxAttempts = 180
	metadataInterval    = 2 * time.Second
	reportMaxAttempts   = 30
	reportInterval      = time.Second
	jobCreateAttempts   = 3

	loginRedirectMarker = "Log in to Turnitin"

	submissionKeyPrefix = "oid:1:"
)
