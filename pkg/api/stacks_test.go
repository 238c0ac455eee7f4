package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando-incubator/lizzy/pkg/config"
	"github.com/zalando-incubator/lizzy/pkg/senza"
)

const helloWorldDefinition = "SenzaInfo:\n  StackName: hello-world\n"

// newTestServer assembles a server around the mock deployer, running in
// X-Uid trust mode. A nil allow-list admits any authenticated caller.
func newTestServer(deployer Deployer, allowedUsers []string) *Server {
	cfg := &config.Config{
		Server:   config.ServerConfig{ListenAddress: ":0"},
		Senza:    config.SenzaConfig{Region: "eu-central-1"},
		Security: config.SecurityConfig{AllowedUsers: allowedUsers},
	}
	return NewServer(cfg, deployer, nil, slog.Default())
}

// doRequest runs one request through the full router as user jdoe.
func doRequest(srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(UIDHeader, "jdoe")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateStack(t *testing.T) {
	var gotDefinition, gotVersion string
	var gotParameters []string
	var gotDisableRollback, gotDryRun bool
	var gotTags map[string]string

	deployer := &mockDeployer{
		createFn: func(ctx context.Context, definition, stackVersion string, parameters []string, disableRollback, dryRun bool, tags map[string]string) (string, error) {
			gotDefinition = definition
			gotVersion = stackVersion
			gotParameters = parameters
			gotDisableRollback = disableRollback
			gotDryRun = dryRun
			gotTags = tags
			return "Stack created", nil
		},
	}
	srv := newTestServer(deployer, nil)

	rec := doRequest(srv, http.MethodPost, "/api/stacks", map[string]any{
		"senza_yaml":       helloWorldDefinition,
		"stack_version":    "v1",
		"parameters":       []string{"param1"},
		"disable_rollback": true,
		"tags":             map[string]string{"team": "deployment"},
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp stackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hello-world", resp.StackName)
	assert.Equal(t, "v1", resp.Version)
	assert.Equal(t, "Stack created", resp.Output)

	assert.Equal(t, helloWorldDefinition, gotDefinition)
	assert.Equal(t, "v1", gotVersion)
	assert.Equal(t, []string{"param1"}, gotParameters)
	assert.True(t, gotDisableRollback)
	assert.False(t, gotDryRun)
	assert.Equal(t, map[string]string{"team": "deployment"}, gotTags)
}

func TestCreateStackBadJSON(t *testing.T) {
	deployer := &mockDeployer{}
	srv := newTestServer(deployer, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/stacks", bytes.NewBufferString("{not json"))
	req.Header.Set(UIDHeader, "jdoe")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, deployer.calls)
}

func TestCreateStackMissingFields(t *testing.T) {
	deployer := &mockDeployer{}
	srv := newTestServer(deployer, nil)

	rec := doRequest(srv, http.MethodPost, "/api/stacks", map[string]any{
		"senza_yaml": helloWorldDefinition,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, deployer.calls)
}

func TestCreateStackInvalidDefinition(t *testing.T) {
	deployer := &mockDeployer{}
	srv := newTestServer(deployer, nil)

	rec := doRequest(srv, http.MethodPost, "/api/stacks", map[string]any{
		"senza_yaml":    "SenzaInfo: {}",
		"stack_version": "v1",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var detail problemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "Invalid senza definition", detail.Title)
	assert.Empty(t, deployer.calls)
}

func TestCreateStackSenzaFailure(t *testing.T) {
	deployer := &mockDeployer{
		createFn: func(ctx context.Context, definition, stackVersion string, parameters []string, disableRollback, dryRun bool, tags map[string]string) (string, error) {
			return "", &senza.ExecutionError{ExitCode: 20, Output: "Output"}
		},
	}
	srv := newTestServer(deployer, nil)

	rec := doRequest(srv, http.MethodPost, "/api/stacks", map[string]any{
		"senza_yaml":    helloWorldDefinition,
		"stack_version": "v1",
	})

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var detail problemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "Failed to create stack", detail.Title)
	assert.Equal(t, "(20): Output", detail.Detail)
}

func TestListStacks(t *testing.T) {
	deployer := &mockDeployer{
		listFn: func(ctx context.Context) ([]any, error) {
			return []any{
				map[string]any{"stack_name": "hello-world", "version": "v1", "status": "CREATE_COMPLETE"},
				map[string]any{"stack_name": "hello-world", "version": "v2", "status": "CREATE_IN_PROGRESS"},
			}, nil
		},
	}
	srv := newTestServer(deployer, nil)

	rec := doRequest(srv, http.MethodGet, "/api/stacks", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var stacks []any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stacks))
	assert.Len(t, stacks, 2)
}

func TestListStacksEmpty(t *testing.T) {
	srv := newTestServer(&mockDeployer{}, nil)

	rec := doRequest(srv, http.MethodGet, "/api/stacks", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGetStack(t *testing.T) {
	deployer := &mockDeployer{
		listFn: func(ctx context.Context) ([]any, error) {
			return []any{
				map[string]any{"stack_name": "hello-world", "version": "v1"},
				map[string]any{"stack_name": "hello-world", "version": "v2"},
			}, nil
		},
	}
	srv := newTestServer(deployer, nil)

	rec := doRequest(srv, http.MethodGet, "/api/stacks/hello-world/v2", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var stack map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stack))
	assert.Equal(t, "v2", stack["version"])
}

func TestGetStackNotFound(t *testing.T) {
	deployer := &mockDeployer{
		listFn: func(ctx context.Context) ([]any, error) {
			return []any{map[string]any{"stack_name": "hello-world", "version": "v1"}}, nil
		},
	}
	srv := newTestServer(deployer, nil)

	rec := doRequest(srv, http.MethodGet, "/api/stacks/hello-world/v9", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var detail problemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "Stack not found", detail.Title)
}

func TestDeleteStack(t *testing.T) {
	var gotName, gotVersion string
	deployer := &mockDeployer{
		removeFn: func(ctx context.Context, stackName, stackVersion string) error {
			gotName = stackName
			gotVersion = stackVersion
			return nil
		},
	}
	srv := newTestServer(deployer, nil)

	rec := doRequest(srv, http.MethodDelete, "/api/stacks/hello-world/v1", nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "hello-world", gotName)
	assert.Equal(t, "v1", gotVersion)
}

func TestDeleteStackFailure(t *testing.T) {
	deployer := &mockDeployer{
		removeFn: func(ctx context.Context, stackName, stackVersion string) error {
			return &senza.ExecutionError{ExitCode: 1, Output: "Stack is in use"}
		},
	}
	srv := newTestServer(deployer, nil)

	rec := doRequest(srv, http.MethodDelete, "/api/stacks/hello-world/v1", nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var detail problemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "(1): Stack is in use", detail.Detail)
}

func TestPatchStackTraffic(t *testing.T) {
	var gotPercentage int
	deployer := &mockDeployer{
		trafficFn: func(ctx context.Context, stackName, stackVersion string, percentage int) (any, error) {
			gotPercentage = percentage
			return map[string]any{"v1": 75.0, "v2": 25.0}, nil
		},
	}
	srv := newTestServer(deployer, nil)

	rec := doRequest(srv, http.MethodPatch, "/api/stacks/hello-world/v2", map[string]any{
		"new_traffic": 25,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 25, gotPercentage)
	assert.Equal(t, []string{"traffic"}, deployer.calls)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hello-world", resp["stack_name"])
	assert.Equal(t, "v2", resp["version"])
	assert.NotNil(t, resp["traffic"])
}

func TestPatchStackAMIImage(t *testing.T) {
	var gotImage string
	deployer := &mockDeployer{
		patchFn: func(ctx context.Context, stackName, stackVersion, amiImage string) error {
			gotImage = amiImage
			return nil
		},
	}
	srv := newTestServer(deployer, nil)

	rec := doRequest(srv, http.MethodPatch, "/api/stacks/hello-world/v1", map[string]any{
		"new_ami_image": "latest",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "latest", gotImage)
	assert.Equal(t, []string{"patch", "respawn-instances"}, deployer.calls)
}

func TestPatchStackImageAndTraffic(t *testing.T) {
	deployer := &mockDeployer{}
	srv := newTestServer(deployer, nil)

	rec := doRequest(srv, http.MethodPatch, "/api/stacks/hello-world/v1", map[string]any{
		"new_ami_image": "ami-12345",
		"new_traffic":   100,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"patch", "respawn-instances", "traffic"}, deployer.calls)
}

func TestPatchStackInvalidTraffic(t *testing.T) {
	deployer := &mockDeployer{}
	srv := newTestServer(deployer, nil)

	for _, percentage := range []int{-1, 101, 150} {
		rec := doRequest(srv, http.MethodPatch, "/api/stacks/hello-world/v1", map[string]any{
			"new_traffic": percentage,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "new_traffic=%d", percentage)
	}
	assert.Empty(t, deployer.calls)
}

func TestPatchStackEmptyBody(t *testing.T) {
	deployer := &mockDeployer{}
	srv := newTestServer(deployer, nil)

	rec := doRequest(srv, http.MethodPatch, "/api/stacks/hello-world/v1", map[string]any{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, deployer.calls)
}

func TestPatchStackRespawnFailure(t *testing.T) {
	deployer := &mockDeployer{
		respawnFn: func(ctx context.Context, stackName, stackVersion string) error {
			return errors.New("(3): boom")
		},
	}
	srv := newTestServer(deployer, nil)

	rec := doRequest(srv, http.MethodPatch, "/api/stacks/hello-world/v1", map[string]any{
		"new_ami_image": "latest",
	})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{"patch", "respawn-instances"}, deployer.calls)
}

func TestListDomains(t *testing.T) {
	var gotStackName string
	deployer := &mockDeployer{
		domainsFn: func(ctx context.Context, stackName string) (any, error) {
			gotStackName = stackName
			return []any{map[string]any{"domain": "hello.example.org"}}, nil
		},
	}
	srv := newTestServer(deployer, nil)

	rec := doRequest(srv, http.MethodGet, "/api/domains?stack_name=hello-world", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello-world", gotStackName)
}

func TestListDomainsAllStacks(t *testing.T) {
	var gotStackName string
	deployer := &mockDeployer{
		domainsFn: func(ctx context.Context, stackName string) (any, error) {
			gotStackName = stackName
			return []any{}, nil
		},
	}
	srv := newTestServer(deployer, nil)

	rec := doRequest(srv, http.MethodGet, "/api/domains", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, gotStackName)
}

func TestRenderDefinition(t *testing.T) {
	var gotImageVersion string
	deployer := &mockDeployer{
		renderFn: func(ctx context.Context, definition, stackVersion, imageVersion string, parameters []string) (any, error) {
			gotImageVersion = imageVersion
			return map[string]any{"Resources": map[string]any{}}, nil
		},
	}
	srv := newTestServer(deployer, nil)

	rec := doRequest(srv, http.MethodPost, "/api/stacks/render", map[string]any{
		"senza_yaml":    helloWorldDefinition,
		"stack_version": "v1",
		"image_version": "1.0",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.0", gotImageVersion)

	var rendered map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rendered))
	assert.Contains(t, rendered, "Resources")
}

func TestRenderDefinitionMissingImageVersion(t *testing.T) {
	deployer := &mockDeployer{}
	srv := newTestServer(deployer, nil)

	rec := doRequest(srv, http.MethodPost, "/api/stacks/render", map[string]any{
		"senza_yaml": helloWorldDefinition,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, deployer.calls)
}

func TestAPIRejectsAnonymous(t *testing.T) {
	deployer := &mockDeployer{}
	srv := newTestServer(deployer, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/stacks", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, deployer.calls)
}

func TestAPIEnforcesAllowList(t *testing.T) {
	deployer := &mockDeployer{}
	srv := newTestServer(deployer, []string{"jdoe"})

	rec := doRequest(srv, http.MethodGet, "/api/stacks", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stacks", nil)
	req.Header.Set(UIDHeader, "mallory")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, []string{"list"}, deployer.calls)
}

func TestHealthSkipsGate(t *testing.T) {
	srv := newTestServer(&mockDeployer{}, []string{"jdoe"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status["status"])
	assert.NotEmpty(t, status["version"])
}
