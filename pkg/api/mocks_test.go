package api

import (
	"context"
)

// mockDeployer records calls in order and delegates to per-method
// functions when set. Unset methods succeed with zero values.
type mockDeployer struct {
	calls []string

	createFn  func(ctx context.Context, definition, stackVersion string, parameters []string, disableRollback, dryRun bool, tags map[string]string) (string, error)
	listFn    func(ctx context.Context) ([]any, error)
	domainsFn func(ctx context.Context, stackName string) (any, error)
	trafficFn func(ctx context.Context, stackName, stackVersion string, percentage int) (any, error)
	removeFn  func(ctx context.Context, stackName, stackVersion string) error
	respawnFn func(ctx context.Context, stackName, stackVersion string) error
	patchFn   func(ctx context.Context, stackName, stackVersion, amiImage string) error
	renderFn  func(ctx context.Context, definition, stackVersion, imageVersion string, parameters []string) (any, error)
}

func (m *mockDeployer) Create(ctx context.Context, definition, stackVersion string, parameters []string, disableRollback, dryRun bool, tags map[string]string) (string, error) {
	m.calls = append(m.calls, "create")
	if m.createFn != nil {
		return m.createFn(ctx, definition, stackVersion, parameters, disableRollback, dryRun, tags)
	}
	return "", nil
}

func (m *mockDeployer) List(ctx context.Context) ([]any, error) {
	m.calls = append(m.calls, "list")
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockDeployer) Domains(ctx context.Context, stackName string) (any, error) {
	m.calls = append(m.calls, "domains")
	if m.domainsFn != nil {
		return m.domainsFn(ctx, stackName)
	}
	return nil, nil
}

func (m *mockDeployer) Traffic(ctx context.Context, stackName, stackVersion string, percentage int) (any, error) {
	m.calls = append(m.calls, "traffic")
	if m.trafficFn != nil {
		return m.trafficFn(ctx, stackName, stackVersion, percentage)
	}
	return nil, nil
}

func (m *mockDeployer) Remove(ctx context.Context, stackName, stackVersion string) error {
	m.calls = append(m.calls, "remove")
	if m.removeFn != nil {
		return m.removeFn(ctx, stackName, stackVersion)
	}
	return nil
}

func (m *mockDeployer) RespawnInstances(ctx context.Context, stackName, stackVersion string) error {
	m.calls = append(m.calls, "respawn-instances")
	if m.respawnFn != nil {
		return m.respawnFn(ctx, stackName, stackVersion)
	}
	return nil
}

func (m *mockDeployer) Patch(ctx context.Context, stackName, stackVersion, amiImage string) error {
	m.calls = append(m.calls, "patch")
	if m.patchFn != nil {
		return m.patchFn(ctx, stackName, stackVersion, amiImage)
	}
	return nil
}

func (m *mockDeployer) RenderDefinition(ctx context.Context, definition, stackVersion, imageVersion string, parameters []string) (any, error) {
	m.calls = append(m.calls, "render")
	if m.renderFn != nil {
		return m.renderFn(ctx, definition, stackVersion, imageVersion, parameters)
	}
	return nil, nil
}
