package testutil

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/nishad/seqlims/internal/database"
	"github.com/nishad/seqlims/internal/models"
)

// FixturePassword is the clear-text password of every fixture user.
const FixturePassword = "Password1!"

// Fixtures are the records inserted by InsertFixtures.
type Fixtures struct {
	Admin     *models.User
	Manager   *models.User
	Sequencer *models.User
	Owner     *models.User // owns Project
	Member    *models.User // PROJECT_USER on Project
	Outsider  *models.User // no project access

	Project    *models.Project
	Sample     *models.Sample
	Run        *models.SequencingRun
	Object     *models.SequencingObject // single-end object in Sample
	Pair       *models.SequencingObject // paired object in Sample
	Submission *models.AnalysisSubmission
}

// TestUser returns an enabled user with role and a hashed FixturePassword.
func TestUser(username string, role models.Role) *models.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(FixturePassword), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("hash fixture password: %v", err))
	}
	return &models.User{
		Username:              username,
		Email:                 username + "@example.org",
		FirstName:             username,
		LastName:              "Tester",
		Password:              string(hash),
		Role:                  role,
		Enabled:               true,
		CredentialsNonExpired: true,
	}
}

// TestProject returns an unsaved project.
func TestProject() *models.Project {
	return &models.Project{
		Name:        "Salmonella surveillance",
		Organism:    "Salmonella enterica",
		Description: "Weekly isolates from the regional laboratory",
	}
}

// TestSample returns an unsaved sample.
func TestSample(name string) *models.Sample {
	return &models.Sample{
		SampleName:         name,
		Organism:           "Salmonella enterica",
		Strain:             "Typhimurium",
		CollectedBy:        "Regional laboratory",
		GeographicLocation: "Canada",
		IsolationSource:    "stool",
	}
}

// SingleEndObject returns an unsaved single-end object with one file.
func SingleEndObject(path string) *models.SequencingObject {
	return &models.SequencingObject{
		Kind:  models.ObjectSingleEnd,
		Files: []models.SequenceFile{{FilePath: path}},
	}
}

// PairedObject returns an unsaved paired object.
func PairedObject(forward, reverse string) *models.SequencingObject {
	return &models.SequencingObject{
		Kind:  models.ObjectPair,
		Files: []models.SequenceFile{{FilePath: forward}, {FilePath: reverse}},
	}
}

// InsertFixtures populates db with one user per role, a project with an
// owner and a member, a sample with sequencing data and a NEW submission.
func InsertFixtures(ctx context.Context, db *database.DB) (*Fixtures, error) {
	fx := &Fixtures{}
	users := []struct {
		dst  **models.User
		name string
		role models.Role
	}{
		{&fx.Admin, "admin", models.RoleAdmin},
		{&fx.Manager, "manager", models.RoleManager},
		{&fx.Sequencer, "sequencer", models.RoleSequencer},
		{&fx.Owner, "owner", models.RoleUser},
		{&fx.Member, "member", models.RoleUser},
		{&fx.Outsider, "outsider", models.RoleUser},
	}
	for _, u := range users {
		created, err := db.CreateUser(ctx, TestUser(u.name, u.role))
		if err != nil {
			return nil, fmt.Errorf("insert user %s: %w", u.name, err)
		}
		*u.dst = created
	}

	project, err := db.CreateProject(ctx, TestProject(), fx.Owner.ID)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	fx.Project = project
	if _, err := db.AddUserToProject(ctx, project.ID, fx.Member.ID, models.ProjectUser); err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}

	sample := TestSample("SE-2024-001")
	if _, err := db.CreateSampleInProject(ctx, project.ID, sample); err != nil {
		return nil, fmt.Errorf("insert sample: %w", err)
	}
	fx.Sample = sample

	run, err := db.CreateSequencingRun(ctx, &models.SequencingRun{Platform: "MiSeq", Layout: models.LayoutPaired})
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	fx.Run = run

	single, err := db.CreateSequencingObjectInSample(ctx, sample.ID, SingleEndObject(""))
	if err != nil {
		return nil, fmt.Errorf("insert single-end object: %w", err)
	}
	fx.Object = single.Object

	pair := PairedObject("", "")
	pair.SequencingRunID = &run.ID
	paired, err := db.CreateSequencingObjectInSample(ctx, sample.ID, pair)
	if err != nil {
		return nil, fmt.Errorf("insert paired object: %w", err)
	}
	fx.Pair = paired.Object

	submission, err := db.CreateAnalysisSubmission(ctx, &models.AnalysisSubmission{
		Name:           "assembly of " + sample.SampleName,
		SubmitterID:    fx.Owner.ID,
		WorkflowID:     "assembly",
		InputObjectIDs: []int64{fx.Object.ID},
	})
	if err != nil {
		return nil, fmt.Errorf("insert submission: %w", err)
	}
	fx.Submission = submission

	return fx, nil
}
