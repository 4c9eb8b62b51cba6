package alert

import (
	"bytes"
	"context"
	"log"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"
)

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := LogNotifier{Logger: log.New(&buf, "", 0)}
	require.NoError(t, n.Notify(context.Background(), "task aborted", "voidTransaction tx1"))
	require.Contains(t, buf.String(), "ALERT task aborted")
	require.Contains(t, buf.String(), "voidTransaction tx1")
}

func TestSESNotifierRequiresAddresses(t *testing.T) {
	_, err := NewSESNotifier(aws.Config{Region: "us-east-1"}, "", "ops@example.com")
	require.Error(t, err)
	n, err := NewSESNotifier(aws.Config{Region: "us-east-1"}, "saga@example.com", "ops@example.com")
	require.NoError(t, err)
	require.NotNil(t, n)
}
