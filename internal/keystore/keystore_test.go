package keystore_test

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xakep666/ps3dump-go/internal/keystore"
	"github.com/xakep666/ps3dump-go/internal/testutil"
	"github.com/xakep666/ps3dump-go/pkg/crypto"
)

func TestIndex_GroupsAndOrder(t *testing.T) {
	index := keystore.NewIndex()

	index.Add(
		keystore.Record{Key: []byte{1}, KeyID: "01", Kind: keystore.KindIRD, SourcePath: "a.ird"},
		keystore.Record{Key: []byte{2}, KeyID: "02", Kind: keystore.KindRedump, SourcePath: "b.dkey"},
	)
	index.Add(
		keystore.Record{Key: []byte{1}, KeyID: "01", Kind: keystore.KindRedump, SourcePath: "c.dkey"},
	)

	assert.Equal(t, []string{"01", "02"}, index.KeyIDs())
	assert.Equal(t, 2, index.Len())
	assert.Len(t, index.Group("01"), 2)
	assert.Len(t, index.Group("02"), 1)
	assert.Equal(t, []byte{1}, index.Key("01"))
	assert.Nil(t, index.Key("ff"))
}

func TestProviders_Order(t *testing.T) {
	providers := keystore.Providers()
	require.Len(t, providers, 2)
	assert.Equal(t, keystore.KindIRD, providers[0].Kind())
	assert.Equal(t, keystore.KindRedump, providers[1].Kind())
}

func TestIRDProvider_Enumerate(t *testing.T) {
	cacheDir := t.TempDir()

	data1 := [16]byte{0x11, 0x22}
	raw := testutil.BuildIRD(testutil.IRDParams{
		ProductCode: "BLES01234",
		Title:       "Example Game",
		GameVersion: "01.00",
		Data1:       data1,
	})

	require.NoError(t, os.MkdirAll(filepath.Join(cacheDir, "nested"), os.ModePerm))
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "nested", "BLES01234.ird"), raw, os.ModePerm))
	// broken files are skipped, not fatal
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "broken.ird"), []byte("nope"), os.ModePerm))

	records, err := keystore.IRDProvider{}.Enumerate(context.Background(), cacheDir, "BLES01234")
	require.NoError(t, err)
	require.Len(t, records, 1)

	want, err := crypto.DeriveDiscKey(data1[:])
	require.NoError(t, err)

	assert.Equal(t, want, records[0].Key)
	assert.Equal(t, keystore.KeyID(want), records[0].KeyID)
	assert.Equal(t, keystore.KindIRD, records[0].Kind)
	assert.Equal(t, "01.00", records[0].GameVersion)
}

func TestRedumpProvider_Enumerate(t *testing.T) {
	cacheDir := t.TempDir()

	data1 := []byte{0xde, 0xad, 0xbe, 0xef, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	require.NoError(t,
		os.WriteFile(filepath.Join(cacheDir, "game.dkey"), []byte(hex.EncodeToString(data1)), os.ModePerm))
	require.NoError(t,
		os.WriteFile(filepath.Join(cacheDir, "bad.dkey"), []byte("xyz"), os.ModePerm))

	records, err := keystore.RedumpProvider{}.Enumerate(context.Background(), cacheDir, "")
	require.NoError(t, err)
	require.Len(t, records, 1)

	want, err := crypto.DeriveDiscKey(data1)
	require.NoError(t, err)

	assert.Equal(t, want, records[0].Key)
	assert.Equal(t, keystore.KindRedump, records[0].Kind)
	assert.Empty(t, records[0].GameVersion)
}

func TestProvider_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := keystore.IRDProvider{}.Enumerate(ctx, t.TempDir(), "")
	assert.ErrorIs(t, err, context.Canceled)
}
