package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	putIn  *s3.PutObjectInput
	getIn  *s3.GetObjectInput
	body   []byte
	putErr error
	getErr error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.putIn = in
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.getIn = in
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.body))}, nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "bucket")
	require.Error(t, err)

	_, err = New(&fakeS3{}, " ")
	require.Error(t, err)
}

func TestKey(t *testing.T) {
	ref := Ref{ChatID: "42", MediaGroupID: "g1", MessageID: 8, FileName: "photo.jpg"}
	data := []byte("image-bytes")

	key := Key(ref, data)
	require.True(t, strings.HasPrefix(key, "42/g1/8/"))
	require.True(t, strings.HasSuffix(key, "_photo.jpg"))

	// Content addressing: same bytes, same key.
	require.Equal(t, key, Key(ref, data))
	require.NotEqual(t, key, Key(ref, []byte("other-bytes")))
}

func TestKey_Defaults(t *testing.T) {
	key := Key(Ref{ChatID: "42", MessageID: 8, FileName: "a/b.pdf"}, []byte("x"))
	require.Contains(t, key, "/no_media_group/")
	require.Contains(t, key, "_a_b.pdf")
}

func TestPut(t *testing.T) {
	api := &fakeS3{}
	store, err := New(api, "uploads")
	require.NoError(t, err)

	ref := Ref{ChatID: "42", MediaGroupID: "g1", MessageID: 8, FileName: "photo.jpg"}
	key, err := store.Put(context.Background(), ref, "image/jpeg", []byte("image-bytes"))
	require.NoError(t, err)
	require.Equal(t, Key(ref, []byte("image-bytes")), key)

	require.Equal(t, "uploads", *api.putIn.Bucket)
	require.Equal(t, key, *api.putIn.Key)
	require.Equal(t, "image/jpeg", *api.putIn.ContentType)
}

func TestPut_Validation(t *testing.T) {
	store, err := New(&fakeS3{}, "uploads")
	require.NoError(t, err)

	_, err = store.Put(context.Background(), Ref{MessageID: 8}, "", []byte("x"))
	require.Error(t, err)

	_, err = store.Put(context.Background(), Ref{ChatID: "42"}, "", nil)
	require.Error(t, err)
}

func TestPut_WrapsAPIError(t *testing.T) {
	store, err := New(&fakeS3{putErr: errors.New("access denied")}, "uploads")
	require.NoError(t, err)

	_, err = store.Put(context.Background(), Ref{ChatID: "42", MessageID: 8, FileName: "x.bin"}, "", []byte("x"))
	require.Error(t, err)
}

func TestGet(t *testing.T) {
	api := &fakeS3{body: []byte("image-bytes")}
	store, err := New(api, "uploads")
	require.NoError(t, err)

	data, err := store.Get(context.Background(), "42/g1/8/abc_photo.jpg")
	require.NoError(t, err)
	require.Equal(t, []byte("image-bytes"), data)
	require.Equal(t, "42/g1/8/abc_photo.jpg", *api.getIn.Key)

	_, err = store.Get(context.Background(), "")
	require.Error(t, err)
}
