package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateProfileIsDisabled(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	home, err := s.CreateProfile(ctx, "  Home  ")
	require.NoError(t, err)
	require.Equal(t, "Home", home.Name)
	require.False(t, home.IsEnabled)
	require.NotEmpty(t, home.ID)
	require.Equal(t, home.CreatedAt, home.UpdatedAt)

	got, err := s.Profile(ctx, home.ID)
	require.NoError(t, err)
	require.Equal(t, home.ID, got.ID)
	require.True(t, home.CreatedAt.Equal(got.CreatedAt))

	active := requireSingleEnabled(t, s)
	require.Equal(t, DefaultProfileName, active.Name)
}

func TestCreateProfileNamesAreCaseInsensitive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateProfile(ctx, "Home")
	require.NoError(t, err)

	_, err = s.CreateProfile(ctx, "home")
	require.Error(t, err)
	require.True(t, IsValidation(err))

	_, err = s.CreateProfile(ctx, "HOME ")
	require.True(t, IsValidation(err))

	_, err = s.CreateProfile(ctx, "default")
	require.True(t, IsValidation(err), "seeded profile name must be taken too")

	profiles, err := s.Profiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
}

func TestCreateProfileRejectsBlankName(t *testing.T) {
	s := openTestStore(t)
	for _, name := range []string{"", "   ", "\t\n"} {
		_, err := s.CreateProfile(context.Background(), name)
		require.Error(t, err, "name %q", name)
		var verr ValidationError
		require.ErrorAs(t, err, &verr)
		require.Equal(t, "name", verr.Field)
	}
}

func TestProfileByNameIgnoresCase(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	work, err := s.CreateProfile(ctx, "Work")
	require.NoError(t, err)

	got, err := s.ProfileByName(ctx, "wORK")
	require.NoError(t, err)
	require.Equal(t, work.ID, got.ID)

	_, err = s.ProfileByName(ctx, "Holiday")
	require.True(t, IsNotFound(err))
}

func TestProfileNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Profile(context.Background(), "does-not-exist")
	require.True(t, IsNotFound(err))
}

func TestRenameProfile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	work, err := s.CreateProfile(ctx, "Work")
	require.NoError(t, err)
	_, err = s.CreateProfile(ctx, "Home")
	require.NoError(t, err)

	renamed, err := s.RenameProfile(ctx, work.ID, "WORK")
	require.NoError(t, err, "renaming to a different case of its own name is allowed")
	require.Equal(t, "WORK", renamed.Name)
	require.True(t, renamed.UpdatedAt.After(work.UpdatedAt))

	_, err = s.RenameProfile(ctx, work.ID, "home")
	require.True(t, IsValidation(err))

	_, err = s.RenameProfile(ctx, work.ID, " ")
	require.True(t, IsValidation(err))

	_, err = s.RenameProfile(ctx, "missing", "Other")
	require.True(t, IsNotFound(err))

	got, err := s.Profile(ctx, work.ID)
	require.NoError(t, err)
	require.Equal(t, "WORK", got.Name)
}

func TestDeleteLastProfileFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	only, err := s.EnabledProfile(ctx)
	require.NoError(t, err)

	err = s.DeleteProfile(ctx, only.ID)
	require.Error(t, err)
	require.True(t, IsValidation(err))

	still, err := s.Profile(ctx, only.ID)
	require.NoError(t, err)
	require.True(t, still.IsEnabled)
}

func TestDeleteDisabledProfileKeepsActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	active, err := s.EnabledProfile(ctx)
	require.NoError(t, err)
	spare, err := s.CreateProfile(ctx, "Spare")
	require.NoError(t, err)

	require.NoError(t, s.DeleteProfile(ctx, spare.ID))

	_, err = s.Profile(ctx, spare.ID)
	require.True(t, IsNotFound(err))
	require.Equal(t, active.ID, requireSingleEnabled(t, s).ID)
}

func TestDeleteEnabledProfileActivatesEarliestRemaining(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	def, err := s.EnabledProfile(ctx)
	require.NoError(t, err)
	first, err := s.CreateProfile(ctx, "First")
	require.NoError(t, err)
	_, err = s.CreateProfile(ctx, "Second")
	require.NoError(t, err)

	_, err = s.SwitchTo(ctx, first.ID)
	require.NoError(t, err)

	require.NoError(t, s.DeleteProfile(ctx, first.ID))
	require.Equal(t, def.ID, requireSingleEnabled(t, s).ID)

	require.NoError(t, s.DeleteProfile(ctx, def.ID))
	require.Equal(t, "Second", requireSingleEnabled(t, s).Name)
}

func TestDeleteProfileSwitchingToExplicitSuccessor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	def, err := s.EnabledProfile(ctx)
	require.NoError(t, err)
	_, err = s.CreateProfile(ctx, "First")
	require.NoError(t, err)
	second, err := s.CreateProfile(ctx, "Second")
	require.NoError(t, err)

	err = s.DeleteProfileSwitchingTo(ctx, def.ID, def.ID)
	require.True(t, IsValidation(err))

	err = s.DeleteProfileSwitchingTo(ctx, def.ID, "missing")
	require.True(t, IsNotFound(err))
	require.Equal(t, def.ID, requireSingleEnabled(t, s).ID, "failed delete must not switch")

	require.NoError(t, s.DeleteProfileSwitchingTo(ctx, def.ID, second.ID))
	require.Equal(t, second.ID, requireSingleEnabled(t, s).ID)
}

func TestDeleteProfileRemovesConfigurationsAndSecrets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	vault := s.Vault()

	doomed, err := s.CreateProfile(ctx, "Doomed")
	require.NoError(t, err)
	movies, err := s.Attach(ctx, doomed.ID, radarr("http://radarr.local:7878"), &Secrets{APIKey: "radarr-key"})
	require.NoError(t, err)
	nzb, err := s.Attach(ctx, doomed.ID, nzbget("http://nzbget.local:6789"), &Secrets{Username: "nzb", Password: "hunter2"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteProfile(ctx, doomed.ID))

	_, err = s.Configuration(ctx, movies.ID)
	require.True(t, IsNotFound(err))
	_, err = s.Configuration(ctx, nzb.ID)
	require.True(t, IsNotFound(err))

	_, ok, err := vault.APIKey(ctx, movies.ID)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = vault.Credentials(ctx, nzb.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteProfileKeepsEverythingWhenVaultFails(t *testing.T) {
	secrets := newMemSecrets()
	s := openTestStore(t, withSecrets(secrets))
	ctx := context.Background()

	active, err := s.EnabledProfile(ctx)
	require.NoError(t, err)
	_, err = s.CreateProfile(ctx, "Other")
	require.NoError(t, err)
	cfg, err := s.Attach(ctx, active.ID, radarr("http://radarr.local:7878"), &Secrets{APIKey: "k"})
	require.NoError(t, err)

	secrets.setFailures(false, true)
	err = s.DeleteProfile(ctx, active.ID)
	require.Error(t, err)
	require.True(t, IsStorage(err))
	secrets.setFailures(false, false)

	got, err := s.Profile(ctx, active.ID)
	require.NoError(t, err)
	require.True(t, got.IsEnabled, "activation must not move when the delete is rolled back")
	require.Len(t, got.Configurations, 1)

	key, ok, err := s.Vault().APIKey(ctx, cfg.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "k", key)
}

func TestSingleEnabledInvariantAcrossOperations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.CreateProfile(ctx, "A")
	require.NoError(t, err)
	b, err := s.CreateProfile(ctx, "B")
	require.NoError(t, err)
	requireSingleEnabled(t, s)

	_, err = s.SwitchTo(ctx, a.ID)
	require.NoError(t, err)
	requireSingleEnabled(t, s)

	_, err = s.RenameProfile(ctx, a.ID, "Alpha")
	require.NoError(t, err)
	requireSingleEnabled(t, s)

	require.NoError(t, s.DeleteProfile(ctx, a.ID))
	requireSingleEnabled(t, s)

	_, err = s.SwitchTo(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, b.ID, requireSingleEnabled(t, s).ID)
}
