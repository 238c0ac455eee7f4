package api

import "context"

// Deployer is the stack operations surface the HTTP handlers drive.
// Implemented by *senza.Client; tests substitute a mock.
type Deployer interface {
	// Create deploys a new stack version from a senza definition.
	Create(ctx context.Context, definition, stackVersion string, parameters []string, disableRollback, dryRun bool, tags map[string]string) (string, error)

	// List returns every stack in the region.
	List(ctx context.Context) ([]any, error)

	// Domains returns managed Route53 domains, optionally for one stack.
	Domains(ctx context.Context, stackName string) (any, error)

	// Traffic routes a percentage of traffic to one stack version.
	Traffic(ctx context.Context, stackName, stackVersion string, percentage int) (any, error)

	// Remove deletes a stack version.
	Remove(ctx context.Context, stackName, stackVersion string) error

	// RespawnInstances replaces the instances of a stack version.
	RespawnInstances(ctx context.Context, stackName, stackVersion string) error

	// Patch updates the AMI image of a stack version.
	Patch(ctx context.Context, stackName, stackVersion, amiImage string) error

	// RenderDefinition expands a definition into a CloudFormation template.
	RenderDefinition(ctx context.Context, definition, stackVersion, imageVersion string, parameters []string) (any, error)
}
