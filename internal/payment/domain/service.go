package domain

import "context"

type Service interface {
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)
	Get(ctx context.Context, id string) (*PaymentNotification, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}
