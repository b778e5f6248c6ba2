package repository

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("github.com/zhejian/url-shortener/shortlink/internal/repository")
