package query

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/mailcore/internal/store"
	"github.com/wesm/mailcore/internal/testutil/ptr"
	"github.com/wesm/mailcore/internal/testutil/storetest"
)

func objectIDs(mds ...*store.Metadata) []string {
	out := make([]string, len(mds))
	for i, m := range mds {
		out[i] = m.ObjectPublicID
	}
	return out
}

func metadataPubIDs(items []MetadataItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.PublicID
	}
	return out
}

func TestMetadata_SkipsEmptyValues(t *testing.T) {
	v := newEnv(t)
	app := v.ds.AppMetadata

	if n := mustCount(t)(v.e.Metadata(v.ctx, v.ns(), MetadataFilter{}, ViewCount, Page{})); n != 4 {
		t.Errorf("count = %d, want 4", n)
	}

	got := mustIDs(t)(v.e.Metadata(v.ctx, v.ns(), MetadataFilter{}, ViewIDs, Page{}))
	assertIDs(t, objectIDs(v.ds.OtherAppMetadata, app[2], app[1], app[0]), got)

	got = mustIDs(t)(v.e.Metadata(v.ctx, v.ns(), MetadataFilter{AppID: ptr.String("app1")}, ViewIDs, Page{}))
	assertIDs(t, objectIDs(app[2], app[1], app[0]), got)

	items := mustItems[MetadataItem](t)(v.e.Metadata(v.ctx, v.ns(), MetadataFilter{AppID: ptr.String("app2")}, ViewFull, Page{}))
	want := []MetadataItem{{
		ID:             v.ds.OtherAppMetadata.ID,
		PublicID:       v.ds.OtherAppMetadata.PublicID,
		AppID:          "app2",
		ObjectPublicID: v.ds.OtherAppMetadata.ObjectPublicID,
		ObjectType:     "thread",
		Value:          `{"x":1}`,
	}}
	if diff := cmp.Diff(want, items); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestMetadataForApp_Errors(t *testing.T) {
	v := newEnv(t)
	if _, err := v.e.MetadataForApp(v.ctx, MetadataQuery{}); !errors.Is(err, ErrMissingAppID) {
		t.Errorf("err = %v, want ErrMissingAppID", err)
	}
	_, err := v.e.MetadataForApp(v.ctx, MetadataQuery{AppID: "app1", QueryType: ptr.String("~"), QueryValue: ptr.Int64(1)})
	if !errors.Is(err, ErrInvalidOperator) {
		t.Errorf("err = %v, want ErrInvalidOperator", err)
	}
}

func TestMetadataForApp_Operators(t *testing.T) {
	v := newEnv(t)
	app := v.ds.AppMetadata
	tests := []struct {
		op   string
		want []*store.Metadata
	}{
		{">", []*store.Metadata{app[2]}},
		{">=", []*store.Metadata{app[1], app[2]}},
		{"<", []*store.Metadata{app[0]}},
		{"<=", []*store.Metadata{app[0], app[1]}},
		{"==", []*store.Metadata{app[1]}},
		{"!=", []*store.Metadata{app[0], app[2]}},
	}
	for _, tc := range tests {
		t.Run(tc.op, func(t *testing.T) {
			items, err := v.e.MetadataForApp(v.ctx, MetadataQuery{
				AppID: "app1", QueryType: ptr.String(tc.op), QueryValue: ptr.Int64(5),
			})
			if err != nil {
				t.Fatalf("MetadataForApp: %v", err)
			}
			want := make([]string, len(tc.want))
			for i, m := range tc.want {
				want[i] = m.PublicID
			}
			assertIDs(t, want, metadataPubIDs(items))
		})
	}
}

func TestMetadataForApp_Paging(t *testing.T) {
	v := newEnv(t)
	app := v.ds.AppMetadata
	all := []string{app[0].PublicID, app[1].PublicID, app[2].PublicID, v.ds.EmptyMetadata.PublicID}

	items, err := v.e.MetadataForApp(v.ctx, MetadataQuery{AppID: "app1"})
	if err != nil {
		t.Fatalf("MetadataForApp: %v", err)
	}
	assertIDs(t, all, metadataPubIDs(items))

	items, err = v.e.MetadataForApp(v.ctx, MetadataQuery{AppID: "app1", Limit: 2})
	if err != nil {
		t.Fatalf("MetadataForApp: %v", err)
	}
	assertIDs(t, all[:2], metadataPubIDs(items))

	items, err = v.e.MetadataForApp(v.ctx, MetadataQuery{AppID: "app1", Last: ptr.Int64(app[0].ID)})
	if err != nil {
		t.Fatalf("MetadataForApp: %v", err)
	}
	assertIDs(t, all[1:], metadataPubIDs(items))
}

func TestMetadataForApp_AcrossNamespaces(t *testing.T) {
	v := newEnv(t)
	other := storetest.NewAccount(t, v.f.Store, "other@example.com", store.AccountTypeEAS)
	md := other.CreateMetadata("app2", ptr.String(`{"y":2}`), nil)

	items, err := v.e.MetadataForApp(v.ctx, MetadataQuery{AppID: "app2"})
	if err != nil {
		t.Fatalf("MetadataForApp: %v", err)
	}
	assertIDs(t, []string{v.ds.OtherAppMetadata.PublicID, md.PublicID}, metadataPubIDs(items))
}
