// Package transcribe wraps the remote speech-to-text service behind a
// fallback chain and a shared rate limiter.
package transcribe

import (
	"context"
	log "log/slog"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
)

// Strategy names which stage of the fallback chain produced a result.
type Strategy string

const (
	StrategyPrimaryLocale      Strategy = "primary_locale"
	StrategyFallbackLocale     Strategy = "fallback_locale"
	StrategyRankedAlternatives Strategy = "ranked_alternatives"
)

// Result is a transient recognition outcome. It is never persisted.
type Result struct {
	Transcript string
	Confidence float64
	Strategy   Strategy
}

const (
	primaryLocale  = "en-US"
	fallbackLocale = "en-GB"

	// Alternatives below this confidence are rejected; longer phrases
	// legitimately score lower, so the bar is permissive.
	minAlternativeConfidence = 0.3

	rankedAlternatives = 5

	sampleRateHertz = 16000
)

// RecognizeClient is the slice of *speech.Client the gateway needs.
type RecognizeClient interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
}

// Gateway runs the ordered recognition fallback chain: primary locale, then a
// secondary locale, then ranked alternatives guarded by a confidence floor.
// Per-stage service errors are swallowed; only exhausting the whole chain
// yields no result.
type Gateway struct {
	client RecognizeClient
	pacer  *Pacer
}

func NewGateway(client RecognizeClient, pacer *Pacer) *Gateway {
	if pacer == nil {
		pacer = NewPacer(DefaultCallsPerMinute)
	}
	return &Gateway{client: client, pacer: pacer}
}

// Transcribe converts a mono 16 kHz clip to text. The boolean is false when
// every stage failed.
func (g *Gateway) Transcribe(ctx context.Context, pcm []float32) (Result, bool) {
	if len(pcm) == 0 {
		return Result{}, false
	}
	content := encodeLinear16(pcm)

	if r, ok := g.recognize(ctx, content, primaryLocale, 1); ok {
		r.Strategy = StrategyPrimaryLocale
		return r, true
	}
	if r, ok := g.recognize(ctx, content, fallbackLocale, 1); ok {
		r.Strategy = StrategyFallbackLocale
		return r, true
	}
	if r, ok := g.recognize(ctx, content, primaryLocale, rankedAlternatives); ok && r.Confidence > minAlternativeConfidence {
		r.Strategy = StrategyRankedAlternatives
		return r, true
	}

	log.Warn("Recognition fallback chain exhausted")
	return Result{}, false
}

// recognize performs one paced remote call and returns the top alternative.
// Unintelligible audio and service errors both come back as (_, false).
func (g *Gateway) recognize(ctx context.Context, content []byte, locale string, maxAlternatives int) (Result, bool) {
	g.pacer.Wait()

	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: sampleRateHertz,
			LanguageCode:    locale,
			MaxAlternatives: int32(maxAlternatives),
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: content},
		},
	})
	if err != nil {
		log.Warn("Recognition stage failed", "locale", locale, "err", err)
		return Result{}, false
	}

	for _, res := range resp.GetResults() {
		alts := res.GetAlternatives()
		if len(alts) == 0 || alts[0].GetTranscript() == "" {
			continue
		}
		return Result{
			Transcript: alts[0].GetTranscript(),
			Confidence: float64(alts[0].GetConfidence()),
		}, true
	}

	log.Debug("Recognition returned no transcript", "locale", locale)
	return Result{}, false
}

// encodeLinear16 converts float32 samples in [-1, 1] to little-endian int16
// bytes, the LINEAR16 wire format.
func encodeLinear16(pcm []float32) []byte {
	out := make([]byte, 2*len(pcm))
	for i, s := range pcm {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
