// Package kubernetes provides a sandbox.Provisioner that manages sandbox
// servers through agent-sandbox SandboxClaim CRDs.
package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"

	"github.com/hamidomar/coderelay/pkg/executor/sandbox"
)

// Ensure ClaimProvisioner implements sandbox.Provisioner.
var _ sandbox.Provisioner = (*ClaimProvisioner)(nil)

// ClaimProvisioner implements sandbox.Provisioner by creating and deleting
// SandboxClaim CRDs. Each call to Acquire creates a SandboxClaim, waits for
// the corresponding Sandbox to become ready, and returns the Sandbox's
// serviceFQDN as the sandbox server URL.
type ClaimProvisioner struct {
	client    client.Client
	template  string
	namespace string
	timeout   time.Duration
}

// NewClaimProvisioner creates a ClaimProvisioner from configuration.
func NewClaimProvisioner(c client.Client, template, namespace string, timeout time.Duration) *ClaimProvisioner {
	return &ClaimProvisioner{
		client:    c,
		template:  template,
		namespace: namespace,
		timeout:   timeout,
	}
}

// NewScheme returns a runtime.Scheme with the agent-sandbox types registered.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := sandboxv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register sandbox types: %w", err)
	}
	if err := extensionsv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register extensions types: %w", err)
	}
	return scheme, nil
}

// Acquire creates a SandboxClaim, waits for the Sandbox to become ready,
// and returns the sandbox server URL (http://<serviceFQDN>:8080) along
// with a release function that deletes the claim.
func (p *ClaimProvisioner) Acquire(ctx context.Context) (string, func(), error) {
	claimName := generateClaimNameFn()

	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      claimName,
			Namespace: p.namespace,
		},
		Spec: extensionsv1alpha1.SandboxClaimSpec{
			TemplateRef: extensionsv1alpha1.SandboxTemplateRef{
				Name: p.template,
			},
		},
	}

	if err := p.client.Create(ctx, claim); err != nil {
		return "", nil, fmt.Errorf("create SandboxClaim %q: %w", claimName, err)
	}

	slog.Debug("created SandboxClaim", "name", claimName, "namespace", p.namespace, "template", p.template)

	serviceFQDN, err := p.waitForReady(ctx, claimName)
	if err != nil {
		// Clean up the claim on error.
		p.deleteClaim(context.Background(), claimName)
		return "", nil, err
	}

	sandboxURL := fmt.Sprintf("http://%s:8080", serviceFQDN)

	release := func() {
		p.deleteClaim(context.Background(), claimName)
	}

	slog.Debug("sandbox server acquired", "name", claimName, "url", sandboxURL)
	return sandboxURL, release, nil
}

// waitForReady polls the Sandbox resource until its Ready condition is True
// and its ServiceFQDN is populated, or the timeout expires.
func (p *ClaimProvisioner) waitForReady(ctx context.Context, sandboxName string) (string, error) {
	var serviceFQDN string
	key := types.NamespacedName{Name: sandboxName, Namespace: p.namespace}

	err := wait.PollUntilContextTimeout(ctx, 500*time.Millisecond, p.timeout, true,
		func(ctx context.Context) (bool, error) {
			sb := &sandboxv1alpha1.Sandbox{}
			if err := p.client.Get(ctx, key, sb); err != nil {
				// The controller may not have created the Sandbox yet.
				slog.Debug("waiting for Sandbox", "name", sandboxName, "error", err.Error())
				return false, nil
			}
			if !isReady(sb) || sb.Status.ServiceFQDN == "" {
				return false, nil
			}
			serviceFQDN = sb.Status.ServiceFQDN
			return true, nil
		})
	if err != nil {
		return "", fmt.Errorf("waiting for Sandbox %q to become ready: %w", sandboxName, err)
	}
	return serviceFQDN, nil
}

// isReady reports whether the Sandbox has a Ready condition set to True.
func isReady(sb *sandboxv1alpha1.Sandbox) bool {
	return meta.IsStatusConditionTrue(sb.Status.Conditions, string(sandboxv1alpha1.SandboxConditionReady))
}

// deleteClaim deletes a SandboxClaim. Errors are logged but not returned
// since this is called from release functions and cleanup paths.
func (p *ClaimProvisioner) deleteClaim(ctx context.Context, name string) {
	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: p.namespace,
		},
	}
	if err := p.client.Delete(ctx, claim); err != nil {
		slog.Warn("failed to delete SandboxClaim", "name", name, "namespace", p.namespace, "error", err.Error())
		return
	}
	slog.Debug("deleted SandboxClaim", "name", name, "namespace", p.namespace)
}

// generateClaimNameFn creates a unique name for a SandboxClaim.
// Replaceable in tests for deterministic naming.
var generateClaimNameFn = func() string {
	return fmt.Sprintf("coderelay-%s", uuid.NewString()[:8])
}
