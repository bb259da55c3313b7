package controller

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/exp/slices"

	"github.com/helvethink/pullpilot/pkg/compose"
	"github.com/helvethink/pullpilot/pkg/schemas"
)

// Discover scans the projects root, makes sure every deployment found has its
// settings persisted and reports the live state of each of them, sorted by name.
func (c *Controller) Discover(ctx context.Context) (views []schemas.DeploymentView, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:Discover")
	defer span.End()

	root := c.Config.Projects.Root
	views = []schemas.DeploymentView{}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithContext(ctx).
				WithField("projects-root", root).
				Warn("projects root does not exist")

			return views, nil
		}

		return nil, errors.Wrapf(err, "reading projects root %s", root)
	}

	for _, entry := range entries {
		if !entry.IsDir() || c.isReservedName(entry.Name()) {
			continue
		}

		path := filepath.Join(root, entry.Name())
		if !c.hasDescriptor(path) {
			continue
		}

		d, err := c.ensureDeployment(ctx, entry.Name(), path)
		if err != nil {
			return nil, err
		}

		views = append(views, c.deploymentView(ctx, d))
	}

	slices.SortFunc(views, func(a, b schemas.DeploymentView) int {
		return strings.Compare(a.Name, b.Name)
	})

	span.SetAttributes(attribute.Int("deployments_count", len(views)))

	return views, nil
}

func (c *Controller) isReservedName(name string) bool {
	return slices.ContainsFunc(c.Config.Projects.ReservedNames, func(r string) bool {
		return strings.EqualFold(r, name)
	})
}

func (c *Controller) hasDescriptor(path string) bool {
	return slices.ContainsFunc(c.Config.Projects.DescriptorFiles, func(f string) bool {
		fi, err := os.Stat(filepath.Join(path, f))
		return err == nil && !fi.IsDir()
	})
}

// ensureDeployment returns the persisted settings of a deployment, creating
// them with the configured defaults when missing. Existing flags are kept.
func (c *Controller) ensureDeployment(ctx context.Context, name, path string) (d schemas.DeploymentSettings, err error) {
	d = schemas.DeploymentSettings{Name: name}

	err = c.Store.GetDeployment(ctx, &d)

	switch {
	case err == nil:
		if d.Path == path {
			return
		}
		d.Path = path
	case errors.Is(err, schemas.ErrNotFound):
		params := c.Config.DeploymentParameters(name)
		d = schemas.DeploymentSettings{
			Name:     name,
			Path:     path,
			Excluded: params.InitialExcluded(),
			FullStop: params.InitialFullStop(),
		}

		log.WithContext(ctx).
			WithFields(log.Fields{
				"deployment-name": name,
				"deployment-path": path,
			}).
			Info("discovered new deployment")
	default:
		return
	}

	err = c.Store.SetDeployment(ctx, d)

	return
}

func (c *Controller) deploymentView(ctx context.Context, d schemas.DeploymentSettings) schemas.DeploymentView {
	v := schemas.DeploymentView{
		Name:     d.Name,
		Path:     d.Path,
		Excluded: d.Excluded,
		FullStop: d.FullStop,
		Status:   schemas.DeploymentStatusStopped,
	}

	count, err := c.Runtime.RunningContainers(ctx, c.composeProject(d))
	if err != nil {
		log.WithContext(ctx).
			WithField("deployment-name", d.Name).
			WithError(err).
			Warn("counting running containers")

		v.Status = schemas.DeploymentStatusError

		return v
	}

	v.Containers = count
	if count > 0 {
		v.Status = schemas.DeploymentStatusRunning
	}

	return v
}

func (c *Controller) composeProject(d schemas.DeploymentSettings) compose.Project {
	return compose.Project{
		Dir:     d.Path,
		Timeout: time.Duration(c.Config.DeploymentParameters(d.Name).CommandTimeoutSeconds) * time.Second,
	}
}

// ToggleExcluded flips whether global runs skip the deployment. It returns
// false, without error, when the deployment is unknown.
func (c *Controller) ToggleExcluded(ctx context.Context, name string) (bool, error) {
	return c.toggle(ctx, name, func(d *schemas.DeploymentSettings) {
		d.Excluded = !d.Excluded
	})
}

// ToggleFullStop flips the update strategy of the deployment. It returns
// false, without error, when the deployment is unknown.
func (c *Controller) ToggleFullStop(ctx context.Context, name string) (bool, error) {
	return c.toggle(ctx, name, func(d *schemas.DeploymentSettings) {
		d.FullStop = !d.FullStop
	})
}

func (c *Controller) toggle(ctx context.Context, name string, flip func(*schemas.DeploymentSettings)) (bool, error) {
	d := schemas.DeploymentSettings{Name: name}
	if err := c.Store.GetDeployment(ctx, &d); err != nil {
		if errors.Is(err, schemas.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	flip(&d)

	if err := c.Store.SetDeployment(ctx, d); err != nil {
		return false, err
	}

	log.WithContext(ctx).
		WithFields(log.Fields{
			"deployment-name": d.Name,
			"excluded":        d.Excluded,
			"full-stop":       d.FullStop,
		}).
		Info("deployment settings updated")

	return true, nil
}
