package maas

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hatchery-sh/hatchery/internal/model"
	"github.com/hatchery-sh/hatchery/internal/util/retry"
)

const maxResponseBytes = 8 << 20

// RealClient implements BackendManager against the backend's versioned REST
// API root. It holds only connection state and is safe for concurrent use.
type RealClient struct {
	baseURL           string
	creds             Credentials
	httpClient        *http.Client
	requestTimeout    time.Duration
	retryMaxAttempts  int
	retryInitialDelay time.Duration
	machineCap        int
}

// ClientOption customizes a RealClient.
type ClientOption func(*RealClient)

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *RealClient) { c.httpClient = hc }
}

// WithRequestTimeout bounds each individual HTTP request.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *RealClient) { c.requestTimeout = d }
}

// WithRetryPolicy sets the transient-failure retry schedule.
func WithRetryPolicy(maxAttempts int, initialDelay time.Duration) ClientOption {
	return func(c *RealClient) {
		c.retryMaxAttempts = maxAttempts
		c.retryInitialDelay = initialDelay
	}
}

// WithMachineCap sets the hard cap on ListMachines results.
func WithMachineCap(n int) ClientOption {
	return func(c *RealClient) { c.machineCap = n }
}

// NewRealClient creates a client for the given API root, e.g.
// "https://maas.example.com/MAAS/api/2.0".
func NewRealClient(endpoint string, creds Credentials, opts ...ClientOption) *RealClient {
	c := &RealClient{
		baseURL:           strings.TrimRight(endpoint, "/"),
		creds:             creds,
		httpClient:        &http.Client{},
		requestTimeout:    30 * time.Second,
		retryMaxAttempts:  5,
		retryInitialDelay: 1 * time.Second,
		machineCap:        1000,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do performs one HTTP round trip and classifies any failure. Every call is
// logged with a correlation id for downstream audit.
func (c *RealClient) do(ctx context.Context, op, method, path string, query, form url.Values) ([]byte, error) {
	correlation := uuid.NewString()[:8]

	endpoint := c.baseURL + "/" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, &Error{Kind: KindPermanent, Op: op, Message: err.Error()}
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", authorizationHeader(c.creds, time.Now()))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("maas: %s [%s] %s %s transport error after %v: %v",
			op, correlation, method, path, time.Since(start).Round(time.Millisecond), err)
		return nil, &Error{Kind: KindTransient, Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	log.Printf("maas: %s [%s] %s %s -> %d in %v",
		op, correlation, method, path, resp.StatusCode, time.Since(start).Round(time.Millisecond))
	if readErr != nil {
		return nil, &Error{Kind: KindTransient, Op: op, Message: readErr.Error()}
	}

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 300 {
			msg = msg[:300]
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &Error{
			Kind:       classifyStatus(resp.StatusCode),
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}

	return data, nil
}

// call wraps do with the retry policy: transient failures are retried with
// exponential backoff, everything else aborts immediately.
func (c *RealClient) call(ctx context.Context, op, method, path string, query, form url.Values) ([]byte, error) {
	var data []byte
	err := retry.WithExponentialBackoff(ctx, func() error {
		var doErr error
		data, doErr = c.do(ctx, op, method, path, query, form)
		if doErr != nil && !IsTransient(doErr) {
			return retry.Fatal(doErr)
		}
		return doErr
	},
		retry.WithMaxRetries(c.retryMaxAttempts),
		retry.WithInitialDelay(c.retryInitialDelay))
	return data, err
}

// --- MachineManager ---

// ListMachines returns machine snapshots matching the filter, capped at the
// configured maximum.
func (c *RealClient) ListMachines(ctx context.Context, filter MachineFilter) (*MachineList, error) {
	query := url.Values{}
	for _, h := range filter.Hostnames {
		query.Add("hostname", h)
	}
	if filter.Zone != "" {
		query.Set("zone", filter.Zone)
	}
	if filter.Pool != "" {
		query.Set("pool", filter.Pool)
	}
	for _, t := range filter.Tags {
		query.Add("tags", t)
	}

	data, err := c.call(ctx, "list-machines", http.MethodGet, "machines/", query, nil)
	if err != nil {
		return nil, err
	}

	var snapshots []MachineSnapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		return nil, &Error{Kind: KindPermanent, Op: "list-machines", Message: fmt.Sprintf("decoding response: %v", err)}
	}

	list := &MachineList{Machines: snapshots}
	if len(snapshots) > c.machineCap {
		list.Machines = snapshots[:c.machineCap]
		list.Truncated = true
	}
	return list, nil
}

// GetMachine returns the snapshot for one machine.
func (c *RealClient) GetMachine(ctx context.Context, machineID string) (*MachineSnapshot, error) {
	data, err := c.call(ctx, "get-machine", http.MethodGet, "machines/"+machineID+"/", nil, nil)
	if err != nil {
		return nil, err
	}
	var snap MachineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &Error{Kind: KindPermanent, Op: "get-machine", Message: fmt.Sprintf("decoding response: %v", err)}
	}
	return &snap, nil
}

// Commission starts hardware discovery on the machine. A conflict from the
// backend is resolved by re-reading the machine: if it is already
// commissioning, the existing job token is returned instead of an error.
func (c *RealClient) Commission(ctx context.Context, machineID string, opts CommissionOptions) (string, error) {
	form := url.Values{}
	if opts.SkipNetworking {
		form.Set("skip_networking", "1")
	}
	if opts.SkipStorage {
		form.Set("skip_storage", "1")
	}
	for _, s := range opts.TestScripts {
		form.Add("testing_scripts", s)
	}

	data, err := c.call(ctx, "commission", http.MethodPost, "machines/"+machineID+"/", url.Values{"op": {"commission"}}, form)
	if err != nil {
		if IsConflict(err) {
			snap, getErr := c.GetMachine(ctx, machineID)
			if getErr == nil && snap.LifecycleStatus() == model.MachineCommissioning && snap.ActionID != "" {
				return snap.ActionID, nil
			}
		}
		return "", err
	}

	var snap MachineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return "", &Error{Kind: KindPermanent, Op: "commission", Message: fmt.Sprintf("decoding response: %v", err)}
	}
	return snap.ActionID, nil
}

// Deploy installs the image plus user data onto the machine. The client
// does not pre-validate machine state; the backend's 409 surfaces as a
// conflict error.
func (c *RealClient) Deploy(ctx context.Context, machineID string, image ImageRef, userData string) (string, error) {
	form := url.Values{}
	form.Set("distro_series", image.Name)
	if image.Version != "" {
		form.Set("distro_version", image.Version)
	}
	if userData != "" {
		form.Set("user_data", base64.StdEncoding.EncodeToString([]byte(userData)))
	}

	data, err := c.call(ctx, "deploy", http.MethodPost, "machines/"+machineID+"/", url.Values{"op": {"deploy"}}, form)
	if err != nil {
		return "", err
	}

	var snap MachineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return "", &Error{Kind: KindPermanent, Op: "deploy", Message: fmt.Sprintf("decoding response: %v", err)}
	}
	return snap.ActionID, nil
}

// Release returns a deployed machine to the ready pool.
func (c *RealClient) Release(ctx context.Context, machineID string) error {
	_, err := c.call(ctx, "release", http.MethodPost, "machines/"+machineID+"/", url.Values{"op": {"release"}}, url.Values{})
	return err
}

// --- PowerManager ---

// Power issues a power action. The return only acknowledges acceptance;
// the effect is observed via later snapshots.
func (c *RealClient) Power(ctx context.Context, machineID string, action PowerAction) error {
	_, err := c.call(ctx, "power", http.MethodPost, "machines/"+machineID+"/", url.Values{"op": {string(action)}}, url.Values{})
	return err
}

// --- ImageManager ---

type bootResource struct {
	ID       json.Number `json:"id"`
	Complete bool        `json:"complete"`
	Size     int64       `json:"size"`
	SHA256   string      `json:"sha256"`
}

// ImportImage asks the backend to import an image and returns the backend
// image id. Byte sync happens asynchronously; poll GetImportStatus.
func (c *RealClient) ImportImage(ctx context.Context, spec ImportSpec) (string, error) {
	form := url.Values{}
	form.Set("name", spec.Name)
	form.Set("architecture", spec.Architecture)
	form.Set("title", fmt.Sprintf("%s %s", spec.Name, spec.Version))
	form.Set("source", spec.UpstreamURL)
	if spec.Checksum != "" {
		form.Set("sha256", spec.Checksum)
	}

	data, err := c.call(ctx, "import-image", http.MethodPost, "boot-resources/", nil, form)
	if err != nil {
		return "", err
	}

	var res bootResource
	if err := json.Unmarshal(data, &res); err != nil {
		return "", &Error{Kind: KindPermanent, Op: "import-image", Message: fmt.Sprintf("decoding response: %v", err)}
	}
	return res.ID.String(), nil
}

// GetImportStatus reports sync progress for an imported image.
func (c *RealClient) GetImportStatus(ctx context.Context, backendImageID string) (*ImportStatus, error) {
	data, err := c.call(ctx, "import-status", http.MethodGet, "boot-resources/"+backendImageID+"/", nil, nil)
	if err != nil {
		return nil, err
	}
	var res bootResource
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, &Error{Kind: KindPermanent, Op: "import-status", Message: fmt.Sprintf("decoding response: %v", err)}
	}
	return &ImportStatus{
		BackendID: res.ID.String(),
		Complete:  res.Complete,
		SizeBytes: res.Size,
		Checksum:  res.SHA256,
	}, nil
}

// DeleteImage removes an image from the backend. Deleting an already-absent
// image succeeds.
func (c *RealClient) DeleteImage(ctx context.Context, backendImageID string) error {
	_, err := c.call(ctx, "delete-image", http.MethodDelete, "boot-resources/"+backendImageID+"/", nil, nil)
	if err != nil {
		var be *Error
		if errors.As(err, &be) && be.StatusCode == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}
