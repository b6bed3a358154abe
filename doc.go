// Package goimpfit fits electrochemical impedance spectra to equivalent
// circuits and checks spectra for Kramers-Kronig consistency.
//
// A circuit is written in a small topology language, for example
//
//	R_1-p(R_2,CPE_1)-Wo_1
//
// where '-' joins elements in series and p(a,b,...) joins series
// sub-expressions in parallel. Boukamp description codes such as R(QR) are
// accepted through FromBoukamp.
//
// Fit runs a bounded Levenberg-Marquardt (or Nelder-Mead) fit, optionally
// wrapped in a seeded basin-hopping search. LinKK fits the Lin-KK RC-ladder
// surrogate of increasing order and reports the mu statistic.
package goimpfit
