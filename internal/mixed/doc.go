// Package mixed describes linear mixed-effects models over a person-period
// table and compares fitted models.
//
// Estimation itself is not done here. A Fitter hands the model and data to an
// external engine (see package rscript) and returns the engine's estimates as a
// Fit. Compare computes the likelihood-ratio test between two nested fits from
// their maximum-likelihood log-likelihoods.
package mixed
